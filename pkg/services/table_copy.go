package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/typeconv"
)

// SourceColumn is a column of the dataset being copied, with its native type.
type SourceColumn struct {
	Name       string
	NativeType string
	PrimaryKey bool
}

// SourceDataset identifies the dataset whose rows the download endpoint serves.
type SourceDataset struct {
	ID      uuid.UUID
	Name    string
	Columns []SourceColumn
}

// CopyDestination is the schema a copy materializes into.
type CopyDestination struct {
	DataSource *models.DataSource
	Account    *models.Account
	Database   string
	Schema     string
}

// CopyJob describes one table copy. It has no identity beyond its execution.
type CopyJob struct {
	Source       SourceDataset
	SourceEngine string // "oracle", "postgres", "greenplum"
	Destination  CopyDestination

	DestinationTable string

	// SampleCount limits how many source rows are copied. Zero copies all rows.
	SampleCount int
}

// ColumnDefinition is a destination column with its translated type.
type ColumnDefinition struct {
	Name string
	Type string
}

// TableDefinition is the destination table built from translated columns.
type TableDefinition struct {
	Columns         []ColumnDefinition
	DistributionKey []string
}

// ColumnNames returns the column names in order.
func (d TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// SQL renders the column list for CREATE TABLE, quoting names with dialect.
func (d TableDefinition) SQL(dialect datasource.Dialect) string {
	parts := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		parts[i] = dialect.QuoteIdentifier(c.Name) + " " + c.Type
	}
	return strings.Join(parts, ", ")
}

// TypeConversionError means a source column's native type has no entry in
// the destination engine's conversion table.
type TypeConversionError struct {
	Column      string
	NativeType  string
	Source      string
	Destination string
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("column %q: no %s type for %s type %q", e.Column, e.Destination, e.Source, e.NativeType)
}

func (e *TypeConversionError) Unwrap() error {
	return apperrors.ErrUnsupportedColumnType
}

// TableCopier is the per-destination-engine copy strategy. Stage and
// Transfer run on one destination session, in that order.
type TableCopier interface {
	// ConvertType maps a native source type to a destination column type.
	ConvertType(native string) (string, error)

	// Stage creates a staging object holding the source rows and returns its name.
	Stage(ctx context.Context, s datasource.Session, job *CopyJob, def TableDefinition) (string, error)

	// Transfer materializes the staging object as the destination table.
	Transfer(ctx context.Context, s datasource.Session, job *CopyJob, staging string) error
}

// DistributionKeyChooser overrides the default distribution key, which is
// the source dataset's primary key columns.
type DistributionKeyChooser interface {
	DistributionKey(job *CopyJob) []string
}

// CopierBuilder creates a copier for one destination engine from the
// conversion table of the job's engine pair.
type CopierBuilder func(table *typeconv.Table) TableCopier

// TableCopyService copies a source dataset into a new destination table.
type TableCopyService interface {
	Copy(ctx context.Context, job *CopyJob) error
}

type tableCopyService struct {
	factory     datasource.Factory
	conversions *typeconv.Registry
	copiers     map[models.Engine]CopierBuilder
	logger      *zap.Logger
}

// NewTableCopyService creates the copy service. copiers maps destination
// engines to their copy strategies.
func NewTableCopyService(
	factory datasource.Factory,
	conversions *typeconv.Registry,
	copiers map[models.Engine]CopierBuilder,
	logger *zap.Logger,
) TableCopyService {
	return &tableCopyService{
		factory:     factory,
		conversions: conversions,
		copiers:     copiers,
		logger:      logger.Named("table-copy"),
	}
}

// DefaultCopiers returns the built-in copy strategies, pulling source rows
// from the download endpoint under publicURL.
func DefaultCopiers(publicURL string, logger *zap.Logger) map[models.Engine]CopierBuilder {
	return map[models.Engine]CopierBuilder{
		models.EngineGreenplum: func(t *typeconv.Table) TableCopier {
			return NewGreenplumCopier(t, publicURL, logger)
		},
		models.EngineSQLServer: func(t *typeconv.Table) TableCopier {
			return NewSQLServerCopier(t, publicURL, nil, logger)
		},
	}
}

func (s *tableCopyService) Copy(ctx context.Context, job *CopyJob) error {
	dest := job.Destination
	if dest.DataSource == nil || dest.Account == nil {
		return fmt.Errorf("copy destination requires a data source and account")
	}
	if job.DestinationTable == "" {
		return fmt.Errorf("destination table name is required")
	}

	copier, err := s.copierFor(job)
	if err != nil {
		return err
	}

	// Every column is translated before anything exists on the destination.
	def, err := BuildTableDefinition(copier, job)
	if err != nil {
		return err
	}

	conn, err := s.factory.Schema(dest.DataSource, dest.Account, dest.Database, dest.Schema)
	if err != nil {
		return err
	}

	s.logger.Info("Copying dataset",
		zap.String("source", job.Source.Name),
		zap.String("source_engine", job.SourceEngine),
		zap.String("destination", dest.Database+"."+dest.Schema+"."+job.DestinationTable),
		zap.Int("sample_count", job.SampleCount))

	err = conn.Run(ctx, func(ctx context.Context, session datasource.Session) error {
		staging, err := copier.Stage(ctx, session, job, def)
		if err != nil {
			return fmt.Errorf("stage %s: %w", job.Source.Name, err)
		}
		if err := copier.Transfer(ctx, session, job, staging); err != nil {
			return fmt.Errorf("transfer into %s: %w", job.DestinationTable, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Copied dataset",
		zap.String("source", job.Source.Name),
		zap.String("destination_table", job.DestinationTable))
	return nil
}

func (s *tableCopyService) copierFor(job *CopyJob) (TableCopier, error) {
	engine := job.Destination.DataSource.Engine
	build, ok := s.copiers[engine]
	if !ok {
		return nil, fmt.Errorf("%w: copying into %s", apperrors.ErrUnsupported, engine)
	}
	table, ok := s.conversions.Table(job.SourceEngine, string(engine))
	if !ok {
		return nil, fmt.Errorf("%w: no conversion table from %s to %s", apperrors.ErrUnsupported, job.SourceEngine, engine)
	}
	return build(table), nil
}

// BuildTableDefinition translates every source column with copier and picks
// the distribution key. The first untranslatable column fails the whole job.
func BuildTableDefinition(copier TableCopier, job *CopyJob) (TableDefinition, error) {
	if len(job.Source.Columns) == 0 {
		return TableDefinition{}, fmt.Errorf("source dataset %q has no columns", job.Source.Name)
	}

	def := TableDefinition{Columns: make([]ColumnDefinition, 0, len(job.Source.Columns))}
	for _, col := range job.Source.Columns {
		destType, err := copier.ConvertType(col.NativeType)
		if err != nil {
			var tce *TypeConversionError
			if errors.As(err, &tce) {
				tce.Column = col.Name
			}
			return TableDefinition{}, err
		}
		def.Columns = append(def.Columns, ColumnDefinition{Name: col.Name, Type: destType})
	}

	if chooser, ok := copier.(DistributionKeyChooser); ok {
		def.DistributionKey = chooser.DistributionKey(job)
	} else {
		def.DistributionKey = PrimaryKeyColumns(job)
	}
	return def, nil
}

// PrimaryKeyColumns returns the source primary key column names in order.
func PrimaryKeyColumns(job *CopyJob) []string {
	var keys []string
	for _, col := range job.Source.Columns {
		if col.PrimaryKey {
			keys = append(keys, col.Name)
		}
	}
	return keys
}

// DownloadURL is the data-exposure endpoint serving a dataset's rows as CSV
// without a header row. A positive sampleCount limits the rows served.
func DownloadURL(publicURL string, datasetID uuid.UUID, sampleCount int) string {
	q := url.Values{}
	q.Set("header", "false")
	if sampleCount > 0 {
		q.Set("row_limit", strconv.Itoa(sampleCount))
	}
	return strings.TrimRight(publicURL, "/") + "/datasets/" + datasetID.String() + "/download.csv?" + q.Encode()
}

// convertWith looks native up in table, reporting a TypeConversionError when absent.
func convertWith(table *typeconv.Table, native string) (string, error) {
	if destType, ok := table.Convert(native); ok {
		return destType, nil
	}
	return "", &TypeConversionError{NativeType: native, Source: table.Source, Destination: table.Destination}
}
