package datasource

import (
	"context"
	"slices"
)

// DatabaseConnection is scoped to one database on an instance.
type DatabaseConnection struct {
	*Connection
}

// Schemas lists user schemas, excluding system and catalog namespaces.
func (c *DatabaseConnection) Schemas(ctx context.Context) ([]string, error) {
	result, err := c.Fetch(ctx, c.dialect.SchemasSQL())
	if err != nil {
		return nil, err
	}
	return result.Strings("schema_name"), nil
}

func (c *DatabaseConnection) CreateSchema(ctx context.Context, name string) error {
	_, err := c.Execute(ctx, "CREATE SCHEMA "+c.dialect.QuoteIdentifier(name))
	return err
}

// DropSchema drops the schema if it exists.
func (c *DatabaseConnection) DropSchema(ctx context.Context, name string) error {
	_, err := c.Execute(ctx, "DROP SCHEMA IF EXISTS "+c.dialect.QuoteIdentifier(name))
	return err
}

func (c *DatabaseConnection) SchemaExists(ctx context.Context, name string) (bool, error) {
	schemas, err := c.Schemas(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(schemas, name), nil
}
