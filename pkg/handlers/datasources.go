package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/services"
)

// AccountRequest carries a database credential. The password is never echoed back.
type AccountRequest struct {
	DBUsername string `json:"db_username"`
	DBPassword string `json:"db_password"`
}

// CreateDataSourceRequest for POST /api/datasources.
type CreateDataSourceRequest struct {
	Name          string         `json:"name"`
	Engine        string         `json:"engine"`
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	MaintenanceDB string         `json:"maintenance_db"`
	Owner         AccountRequest `json:"owner"`
}

// RefreshRequest for POST /api/datasources/{id}/refresh. An empty body
// refreshes everything without stale marking.
type RefreshRequest struct {
	MarkStale         bool `json:"mark_stale"`
	SkipSchemaRefresh bool `json:"skip_schema_refresh"`
	SchemasOnly       bool `json:"schemas_only"`
}

// RefreshResponse summarizes a database refresh pass.
type RefreshResponse struct {
	Created         int               `json:"created"`
	Updated         int               `json:"updated"`
	Rejected        int               `json:"rejected"`
	Found           int               `json:"found"`
	MarkedStale     int               `json:"marked_stale"`
	ReindexEnqueued int               `json:"reindex_enqueued"`
	Aborted         bool              `json:"aborted"`
	SchemasFailed   map[string]string `json:"schemas_failed,omitempty"`
}

// DataSourcesHandler exposes data source registration and refresh to operators.
type DataSourcesHandler struct {
	dataSources services.DataSourceService
	sync        services.CatalogSyncService
	logger      *zap.Logger
}

func NewDataSourcesHandler(dataSources services.DataSourceService, sync services.CatalogSyncService, logger *zap.Logger) *DataSourcesHandler {
	return &DataSourcesHandler{
		dataSources: dataSources,
		sync:        sync,
		logger:      logger,
	}
}

// RegisterRoutes registers the data source routes on the given mux.
func (h *DataSourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources", h.Create)
	mux.HandleFunc("DELETE /api/datasources/{id}", h.Delete)
	mux.HandleFunc("POST /api/datasources/{id}/accounts", h.AddAccount)
	mux.HandleFunc("POST /api/datasources/{id}/refresh", h.Refresh)
}

// Create handles POST /api/datasources
// Registers a data source with its owner account.
func (h *DataSourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDataSourceRequest
	if err := DecodeJSON(r, &req, false); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Owner.DBUsername == "" {
		h.writeError(w, http.StatusBadRequest, "missing_owner", "Owner account is required")
		return
	}

	ds := &models.DataSource{
		Name:          req.Name,
		Engine:        models.Engine(req.Engine),
		Host:          req.Host,
		Port:          req.Port,
		MaintenanceDB: req.MaintenanceDB,
	}
	owner := &models.Account{DBUsername: req.Owner.DBUsername, DBPassword: req.Owner.DBPassword}

	if err := h.dataSources.Create(r.Context(), ds, owner); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidRecord):
			h.writeError(w, http.StatusBadRequest, "invalid_datasource", err.Error())
		case errors.Is(err, apperrors.ErrUnsupported):
			h.writeError(w, http.StatusBadRequest, "unsupported_engine", err.Error())
		case errors.Is(err, apperrors.ErrConflict):
			h.writeError(w, http.StatusConflict, "duplicate_name", "A data source with this name already exists")
		default:
			h.logger.Error("Failed to create data source", zap.String("name", req.Name), logging.Error(err))
			h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to create data source")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: ds})
}

// Delete handles DELETE /api/datasources/{id}
// Local databases are removed by a background request.
func (h *DataSourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDataSourceID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.dataSources.Destroy(r.Context(), id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Data source not found")
			return
		}
		h.logger.Error("Failed to destroy data source", zap.String("datasource_id", id.String()), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete data source")
		return
	}

	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Data source deleted"})
}

// AddAccount handles POST /api/datasources/{id}/accounts
func (h *DataSourcesHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDataSourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req AccountRequest
	if err := DecodeJSON(r, &req, false); err != nil || req.DBUsername == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "db_username is required")
		return
	}

	acct := &models.Account{DBUsername: req.DBUsername, DBPassword: req.DBPassword}
	if err := h.dataSources.AddAccount(r.Context(), id, acct); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Data source not found")
			return
		}
		h.logger.Error("Failed to add account", zap.String("datasource_id", id.String()), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "add_account_failed", "Failed to add account")
		return
	}

	h.writeJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: acct})
}

// Refresh handles POST /api/datasources/{id}/refresh
// Runs one database refresh pass synchronously and reports what it did.
func (h *DataSourcesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDataSourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req RefreshRequest
	if err := DecodeJSON(r, &req, true); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.sync.RefreshDatabases(r.Context(), id, services.RefreshOptions{
		MarkStale:         req.MarkStale,
		SkipSchemaRefresh: req.SkipSchemaRefresh,
		SchemasOnly:       req.SchemasOnly,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Data source not found")
			return
		}
		h.logger.Error("Refresh failed", zap.String("datasource_id", id.String()), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "refresh_failed", "Failed to refresh data source")
		return
	}

	h.writeJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toRefreshResponse(result)})
}

func toRefreshResponse(result *services.RefreshResult) RefreshResponse {
	resp := RefreshResponse{
		Created:         result.Created,
		Updated:         result.Updated,
		Rejected:        result.Rejected,
		Found:           result.Found,
		MarkedStale:     result.MarkedStale,
		ReindexEnqueued: result.ReindexEnqueued,
		Aborted:         result.Aborted,
	}
	if result.Schemas != nil && len(result.Schemas.Failed) > 0 {
		resp.SchemasFailed = make(map[string]string, len(result.Schemas.Failed))
		for name, err := range result.Schemas.Failed {
			resp.SchemasFailed[name] = logging.SanitizeError(err)
		}
	}
	return resp
}

func (h *DataSourcesHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	if err := WriteJSON(w, status, body); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *DataSourcesHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
