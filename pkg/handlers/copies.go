package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/services"
)

// CopyColumn is one source column with its native type.
type CopyColumn struct {
	Name       string `json:"name"`
	NativeType string `json:"native_type"`
	PrimaryKey bool   `json:"primary_key"`
}

// CopyRequest for POST /api/copies.
type CopyRequest struct {
	Source struct {
		ID      uuid.UUID    `json:"id"`
		Name    string       `json:"name"`
		Engine  string       `json:"engine"`
		Columns []CopyColumn `json:"columns"`
	} `json:"source"`
	Destination struct {
		DataSourceID uuid.UUID `json:"datasource_id"`
		AccountID    uuid.UUID `json:"account_id"`
		Database     string    `json:"database"`
		Schema       string    `json:"schema"`
		Table        string    `json:"table"`
	} `json:"destination"`
	SampleCount int `json:"sample_count"`
}

// CopiesHandler runs table copies into a registered destination.
type CopiesHandler struct {
	dataSources services.DataSourceService
	copier      services.TableCopyService
	logger      *zap.Logger
}

func NewCopiesHandler(dataSources services.DataSourceService, copier services.TableCopyService, logger *zap.Logger) *CopiesHandler {
	return &CopiesHandler{dataSources: dataSources, copier: copier, logger: logger}
}

// RegisterRoutes registers the copy routes on the given mux.
func (h *CopiesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/copies", h.Copy)
}

// Copy handles POST /api/copies
// The copy runs synchronously; the response is sent once the destination table exists.
func (h *CopiesHandler) Copy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if err := DecodeJSON(r, &req, false); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Source.ID == uuid.Nil || req.Destination.Table == "" || req.SampleCount < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "source.id and destination.table are required")
		return
	}

	ds, acct, err := h.dataSources.Resolve(r.Context(), req.Destination.DataSourceID, req.Destination.AccountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Destination data source or account not found")
			return
		}
		h.logger.Error("Failed to resolve copy destination", logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "copy_failed", "Failed to resolve copy destination")
		return
	}

	job := &services.CopyJob{
		Source: services.SourceDataset{
			ID:      req.Source.ID,
			Name:    req.Source.Name,
			Columns: make([]services.SourceColumn, len(req.Source.Columns)),
		},
		SourceEngine: req.Source.Engine,
		Destination: services.CopyDestination{
			DataSource: ds,
			Account:    acct,
			Database:   req.Destination.Database,
			Schema:     req.Destination.Schema,
		},
		DestinationTable: req.Destination.Table,
		SampleCount:      req.SampleCount,
	}
	for i, c := range req.Source.Columns {
		job.Source.Columns[i] = services.SourceColumn{Name: c.Name, NativeType: c.NativeType, PrimaryKey: c.PrimaryKey}
	}

	if err := h.copier.Copy(r.Context(), job); err != nil {
		var tce *services.TypeConversionError
		switch {
		case errors.As(err, &tce):
			h.writeError(w, http.StatusUnprocessableEntity, "unsupported_column_type", tce.Error())
		case errors.Is(err, apperrors.ErrUnsupported):
			h.writeError(w, http.StatusBadRequest, "unsupported_copy", err.Error())
		case errors.Is(err, apperrors.ErrInstanceUnreachable):
			h.writeError(w, http.StatusBadGateway, "destination_unreachable", "Destination engine is unreachable")
		case errors.Is(err, apperrors.ErrQueryFailed):
			h.writeError(w, http.StatusBadGateway, "copy_failed", logging.SanitizeError(err))
		default:
			h.logger.Error("Copy failed",
				zap.String("source", req.Source.Name),
				zap.String("destination_table", req.Destination.Table),
				logging.Error(err))
			h.writeError(w, http.StatusInternalServerError, "copy_failed", "Copy failed")
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Message: "Copied " + req.Source.Name + " into " + req.Destination.Table}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *CopiesHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
