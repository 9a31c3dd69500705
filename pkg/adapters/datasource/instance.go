package datasource

import (
	"context"
)

// InstanceConnection is scoped to a whole engine instance, connected through
// its maintenance database.
type InstanceConnection struct {
	*Connection
}

// Databases lists the databases visible to the handle's credential.
func (c *InstanceConnection) Databases(ctx context.Context) ([]string, error) {
	result, err := c.Fetch(ctx, c.dialect.DatabasesSQL())
	if err != nil {
		return nil, err
	}
	return result.Strings("database_name"), nil
}

// DatabaseGrants returns one pair per (database, username) where username is
// one of usernames and holds CONNECT on a connectable, non-template database.
func (c *InstanceConnection) DatabaseGrants(ctx context.Context, usernames []string) ([]DatabaseGrant, error) {
	sql, err := c.dialect.DatabaseGrantsSQL()
	if err != nil {
		return nil, err
	}
	if len(usernames) == 0 {
		return nil, nil
	}

	result, err := c.Fetch(ctx, sql, usernames)
	if err != nil {
		return nil, err
	}

	grants := make([]DatabaseGrant, 0, len(result.Rows))
	for _, row := range result.Rows {
		grants = append(grants, DatabaseGrant{
			DatabaseName: asString(row["database_name"]),
			DBUsername:   asString(row["db_username"]),
		})
	}
	return grants, nil
}
