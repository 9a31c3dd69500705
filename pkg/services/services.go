// Package services mirrors remote engine catalogs into the local store and
// copies tables between engines.
package services

import (
	"context"

	"github.com/ekaya-inc/catalog-mirror/pkg/services/workqueue"
)

// Background request kinds submitted by the services.
const (
	// JobReindexDatasets re-lists datasets of every schema of a database. Key: database ID.
	JobReindexDatasets workqueue.JobKind = "reindex_datasets"

	// JobDestroyDatabases removes local databases of a destroyed data source. Key: data source ID.
	JobDestroyDatabases workqueue.JobKind = "destroy_databases"
)

// Enqueuer submits deduplicated background requests. Implementations
// guarantee at most one pending request per (kind, key).
type Enqueuer interface {
	EnqueueIfNotQueued(ctx context.Context, kind workqueue.JobKind, key string) (bool, error)
}

// HandlerRegistrar installs background request handlers.
type HandlerRegistrar interface {
	Register(kind workqueue.JobKind, handler workqueue.Handler)
}

// RefreshOptions tune a catalog refresh pass.
type RefreshOptions struct {
	// MarkStale stamps local records that the remote catalog no longer reports.
	MarkStale bool

	// SkipSchemaRefresh stops after the database pass.
	SkipSchemaRefresh bool

	// SchemasOnly refreshes schemas without re-listing their datasets.
	// The zero value refreshes everything.
	SchemasOnly bool
}

var (
	_ Enqueuer         = (*workqueue.Queue)(nil)
	_ HandlerRegistrar = (*workqueue.Queue)(nil)
)
