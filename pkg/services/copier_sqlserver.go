package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"gitlab.com/tymonx/go-formatter/formatter"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/typeconv"
)

// SQLServerCopier has no pull-based external tables to work with, so it
// streams the download endpoint's CSV through the session and bulk-loads it
// into a text staging table, then casts it into the destination with SELECT INTO.
type SQLServerCopier struct {
	table     *typeconv.Table
	publicURL string
	client    *http.Client
	logger    *zap.Logger
}

// NewSQLServerCopier creates the copier. A nil client uses a retrying HTTP client.
func NewSQLServerCopier(table *typeconv.Table, publicURL string, client *http.Client, logger *zap.Logger) *SQLServerCopier {
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 2
		rc.Logger = nil
		client = rc.StandardClient()
	}
	return &SQLServerCopier{
		table:     table,
		publicURL: publicURL,
		client:    client,
		logger:    logger.Named("sqlserver-copier"),
	}
}

func (c *SQLServerCopier) ConvertType(native string) (string, error) {
	return convertWith(c.table, native)
}

func stagingTableName(job *CopyJob) string {
	return job.DestinationTable + "_staging"
}

func (c *SQLServerCopier) Stage(ctx context.Context, s datasource.Session, job *CopyJob, def TableDefinition) (staging string, err error) {
	staging = stagingTableName(job)

	columns := make([]string, len(def.Columns))
	for i, col := range def.Columns {
		columns[i] = s.Dialect().QuoteIdentifier(col.Name) + " nvarchar(max) NULL"
	}
	if _, err := s.Exec(ctx, "CREATE TABLE "+s.Qualify(staging)+" ("+strings.Join(columns, ", ")+")"); err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			c.dropStaging(ctx, s, staging)
		}
	}()

	body, err := c.download(ctx, DownloadURL(c.publicURL, job.Source.ID, job.SampleCount))
	if err != nil {
		return "", err
	}
	defer body.Close()

	src := newCSVRowSource(body, len(def.Columns))
	n, err := s.CopyFrom(ctx, staging, def.ColumnNames(), src)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Staged rows", zap.String("staging", staging), zap.Int64("rows", n))
	return staging, nil
}

func (c *SQLServerCopier) Transfer(ctx context.Context, s datasource.Session, job *CopyJob, staging string) error {
	defer c.dropStaging(ctx, s, staging)

	def, err := BuildTableDefinition(c, job)
	if err != nil {
		return err
	}
	casts := make([]string, len(def.Columns))
	for i, col := range def.Columns {
		name := s.Dialect().QuoteIdentifier(col.Name)
		casts[i] = "CAST(" + name + " AS " + col.Type + ") AS " + name
	}

	stmt, err := formatter.Format(`SELECT {columns} INTO {destination} FROM {staging}`,
		formatter.Named{
			"columns":     strings.Join(casts, ", "),
			"destination": s.Qualify(job.DestinationTable),
			"staging":     s.Qualify(staging),
		})
	if err != nil {
		return fmt.Errorf("render transfer statement: %w", err)
	}
	_, err = s.Exec(ctx, stmt)
	return err
}

func (c *SQLServerCopier) dropStaging(ctx context.Context, s datasource.Session, staging string) {
	stmt := "IF OBJECT_ID(N'" + strings.ReplaceAll(s.Qualify(staging), "'", "''") + "', N'U') IS NOT NULL DROP TABLE " + s.Qualify(staging)
	if _, err := s.Exec(context.WithoutCancel(ctx), stmt); err != nil {
		c.logger.Warn("Failed to drop staging table", zap.String("staging", staging), zap.Error(err))
	}
}

func (c *SQLServerCopier) download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download source rows: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download source rows: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// csvRowSource feeds CSV records to CopyFrom. Empty fields load as NULL.
type csvRowSource struct {
	reader  *csv.Reader
	width   int
	current []any
	err     error
}

func newCSVRowSource(r io.Reader, width int) *csvRowSource {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = width
	reader.ReuseRecord = true
	return &csvRowSource{reader: reader, width: width}
}

func (s *csvRowSource) Next() bool {
	if s.err != nil {
		return false
	}
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = fmt.Errorf("read source csv: %w", err)
		return false
	}

	s.current = make([]any, s.width)
	for i, field := range record {
		if field != "" {
			s.current[i] = field
		}
	}
	return true
}

func (s *csvRowSource) Values() ([]any, error) {
	return s.current, nil
}

func (s *csvRowSource) Err() error {
	return s.err
}

var _ TableCopier = (*SQLServerCopier)(nil)
