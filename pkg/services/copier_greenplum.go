package services

import (
	"context"
	"fmt"
	"strings"

	"gitlab.com/tymonx/go-formatter/formatter"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/typeconv"
)

// GreenplumCopier stages source rows as a temporary external web table that
// segments pull from the download endpoint, then materializes it with
// CREATE TABLE AS, distributed by the source primary key.
type GreenplumCopier struct {
	table     *typeconv.Table
	publicURL string
	logger    *zap.Logger
}

func NewGreenplumCopier(table *typeconv.Table, publicURL string, logger *zap.Logger) *GreenplumCopier {
	return &GreenplumCopier{table: table, publicURL: publicURL, logger: logger.Named("greenplum-copier")}
}

func (c *GreenplumCopier) ConvertType(native string) (string, error) {
	return convertWith(c.table, native)
}

func (c *GreenplumCopier) DistributionKey(job *CopyJob) []string {
	return PrimaryKeyColumns(job)
}

func (c *GreenplumCopier) Stage(ctx context.Context, s datasource.Session, job *CopyJob, def TableDefinition) (string, error) {
	staging := job.Source.Name
	stmt, err := formatter.Format(`CREATE EXTERNAL TEMPORARY WEB TABLE {staging} ({columns}) LOCATION ('{location}') FORMAT 'CSV'`,
		formatter.Named{
			"staging":  s.Dialect().QuoteIdentifier(staging),
			"columns":  def.SQL(s.Dialect()),
			"location": strings.ReplaceAll(DownloadURL(c.publicURL, job.Source.ID, job.SampleCount), "'", "''"),
		})
	if err != nil {
		return "", fmt.Errorf("render staging statement: %w", err)
	}
	if _, err := s.Exec(ctx, stmt); err != nil {
		return "", err
	}
	return staging, nil
}

func (c *GreenplumCopier) Transfer(ctx context.Context, s datasource.Session, job *CopyJob, staging string) error {
	distribution := "DISTRIBUTED RANDOMLY"
	if keys := c.DistributionKey(job); len(keys) > 0 {
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = s.Dialect().QuoteIdentifier(k)
		}
		distribution = "DISTRIBUTED BY (" + strings.Join(quoted, ", ") + ")"
	}

	stmt, err := formatter.Format(`CREATE TABLE {destination} AS SELECT * FROM {staging} {distribution}`,
		formatter.Named{
			"destination":  s.Qualify(job.DestinationTable),
			"staging":      s.Dialect().QuoteIdentifier(staging),
			"distribution": distribution,
		})
	if err != nil {
		return fmt.Errorf("render transfer statement: %w", err)
	}
	if _, err := s.Exec(ctx, stmt); err != nil {
		return err
	}

	// The destination exists at this point. The staging table is temporary
	// and goes away with the session, so a failed drop does not fail the copy.
	if _, err := s.Exec(ctx, "DROP EXTERNAL TABLE IF EXISTS "+s.Dialect().QuoteIdentifier(staging)); err != nil {
		c.logger.Warn("Failed to drop staging table",
			zap.String("staging", staging),
			zap.String("destination", job.DestinationTable),
			logging.Error(err))
	}
	return nil
}

var (
	_ TableCopier            = (*GreenplumCopier)(nil)
	_ DistributionKeyChooser = (*GreenplumCopier)(nil)
)
