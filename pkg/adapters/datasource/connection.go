package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
)

// Connection is the base handle shared by every tier. It holds at most one
// live session, and every public operation acquires that session, runs one
// unit of work and releases it again before returning.
//
// A Connection is not safe for concurrent use. Statements are never retried.
type Connection struct {
	driver   Driver
	dialect  Dialect
	settings Settings
	config   ConnectionConfig
	logger   *zap.Logger

	conn Conn
}

func newConnection(driver Driver, dialect Dialect, settings Settings, cfg ConnectionConfig, logger *zap.Logger) *Connection {
	return &Connection{
		driver:   driver,
		dialect:  dialect,
		settings: settings,
		config:   cfg,
		logger:   logger,
	}
}

// Settings returns the session target of this handle.
func (c *Connection) Settings() Settings {
	return c.settings
}

// Dialect returns the engine dialect used by this handle.
func (c *Connection) Dialect() Dialect {
	return c.dialect
}

// Connect opens the session if none is open. Failure is always an *UnreachableError.
func (c *Connection) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	openCtx := ctx
	if c.config.LoginTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, c.config.LoginTimeout)
		defer cancel()
	}

	conn, err := c.driver.Open(openCtx, c.settings, c.config)
	if err != nil {
		c.logger.Debug("Remote session could not be opened",
			zap.String("host", c.settings.Host),
			zap.Int("port", c.settings.Port),
			zap.String("database", c.settings.Database),
			zap.String("error", logging.SanitizeError(err)))
		return &UnreachableError{
			Host:     c.settings.Host,
			Port:     c.settings.Port,
			Database: c.settings.Database,
			Err:      err,
		}
	}
	c.conn = conn
	return nil
}

// Disconnect closes the session. It is a no-op when nothing is open, and the
// handle reports not connected afterwards even if closing failed.
func (c *Connection) Disconnect(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("close remote session: %w", err)
	}
	return nil
}

// Connected reports whether a session is currently open.
func (c *Connection) Connected() bool {
	return c.conn != nil
}

// Fetch runs a query in its own scoped session and returns every row.
func (c *Connection) Fetch(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	var result *QueryResult
	err := c.withConnection(ctx, func(conn Conn) error {
		var err error
		result, err = conn.Query(ctx, sql, args...)
		return wrapQuery("fetch", err)
	})
	return result, err
}

// Execute runs a statement in its own scoped session and returns the affected row count.
func (c *Connection) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := c.withConnection(ctx, func(conn Conn) error {
		var err error
		affected, err = conn.Exec(ctx, sql, args...)
		return wrapQuery("execute", err)
	})
	return affected, err
}

// withConnection connects, runs fn and disconnects on every exit path,
// including a panic inside fn.
func (c *Connection) withConnection(ctx context.Context, fn func(Conn) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Failed to release remote session",
				zap.String("host", c.settings.Host),
				zap.String("database", c.settings.Database),
				logging.Error(err))
		}
	}()
	return fn(c.conn)
}

// qualify returns schema.name quoted for the handle's dialect.
func (c *Connection) qualify(schema, name string) string {
	return c.dialect.QuoteIdentifier(schema) + "." + c.dialect.QuoteIdentifier(name)
}
