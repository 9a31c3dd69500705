package datasource_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/testhelpers"
)

var (
	testDataSource = &models.DataSource{Name: "warehouse", Engine: models.EngineGreenplum, Host: "gp.local", Port: 5432}
	testOwner      = &models.Account{DBUsername: "gpadmin", DBPassword: "secret"}
)

func newFactory(t *testing.T, engine *testhelpers.FakeEngine, cfg datasource.ConnectionConfig) datasource.Factory {
	t.Helper()
	return datasource.NewFactoryWithLookup(cfg, engine.Lookup, zaptest.NewLogger(t))
}

func TestFactory_InstanceUsesMaintenanceDatabase(t *testing.T) {
	engine := &testhelpers.FakeEngine{}
	factory := newFactory(t, engine, datasource.ConnectionConfig{})

	inst, err := factory.Instance(testDataSource, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "maintenance", inst.Settings().Database)
	assert.Equal(t, "gpadmin", inst.Settings().Username)

	withDB := *testDataSource
	withDB.MaintenanceDB = "template_admin"
	inst, err = factory.Instance(&withDB, testOwner)
	require.NoError(t, err)
	assert.Equal(t, "template_admin", inst.Settings().Database)
}

func TestFactory_UnknownEngine(t *testing.T) {
	factory := datasource.NewFactoryWithLookup(datasource.ConnectionConfig{},
		func(string) (datasource.EngineRegistration, bool) { return datasource.EngineRegistration{}, false },
		zaptest.NewLogger(t))

	_, err := factory.Instance(testDataSource, testOwner)
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)
}

func TestConnection_ConnectUnreachable(t *testing.T) {
	engine := &testhelpers.FakeEngine{
		OpenErr: func(datasource.Settings) error { return errors.New("dial tcp: connection refused") },
	}
	inst, err := newFactory(t, engine, datasource.ConnectionConfig{}).Instance(testDataSource, testOwner)
	require.NoError(t, err)

	err = inst.Connect(context.Background())
	require.Error(t, err)

	var unreachable *datasource.UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "gp.local", unreachable.Host)
	assert.ErrorIs(t, err, apperrors.ErrInstanceUnreachable)
	assert.NotErrorIs(t, err, apperrors.ErrQueryFailed)
	assert.False(t, inst.Connected())
}

func TestConnection_LoginTimeoutBoundsOpen(t *testing.T) {
	var deadline time.Time
	engine := &testhelpers.FakeEngine{}
	driver := driverFunc(func(ctx context.Context, s datasource.Settings, cfg datasource.ConnectionConfig) (datasource.Conn, error) {
		deadline, _ = ctx.Deadline()
		return engine.Open(ctx, s, cfg)
	})
	lookup := func(e string) (datasource.EngineRegistration, bool) {
		reg, _ := engine.Lookup(e)
		reg.Driver = driver
		return reg, true
	}
	factory := datasource.NewFactoryWithLookup(datasource.ConnectionConfig{LoginTimeout: 3 * time.Second}, lookup, zaptest.NewLogger(t))

	inst, err := factory.Instance(testDataSource, testOwner)
	require.NoError(t, err)
	_, err = inst.Databases(context.Background())
	require.NoError(t, err)

	require.False(t, deadline.IsZero(), "open should run under the login timeout")
	assert.WithinDuration(t, time.Now().Add(3*time.Second), deadline, 2*time.Second)
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	engine := &testhelpers.FakeEngine{}
	inst, err := newFactory(t, engine, datasource.ConnectionConfig{}).Instance(testDataSource, testOwner)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, inst.Disconnect(ctx))

	require.NoError(t, inst.Connect(ctx))
	assert.True(t, inst.Connected())
	assert.NoError(t, inst.Disconnect(ctx))
	assert.NoError(t, inst.Disconnect(ctx))
	assert.False(t, inst.Connected())
	assert.Equal(t, 0, engine.OpenSessions())
}

// Every operation must leave the handle disconnected, on success and on failure.
func TestConnection_ScopedRelease(t *testing.T) {
	failing := errors.New(`relation "missing" does not exist`)

	ops := []struct {
		name string
		run  func(ctx context.Context, f datasource.Factory) error
	}{
		{"instance databases", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Instance(testDataSource, testOwner)
			_, err := c.Databases(ctx)
			assertReleased(t, c.Connected())
			return err
		}},
		{"instance grants", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Instance(testDataSource, testOwner)
			_, err := c.DatabaseGrants(ctx, []string{"alice"})
			assertReleased(t, c.Connected())
			return err
		}},
		{"database schemas", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Database(testDataSource, testOwner, "sales")
			_, err := c.Schemas(ctx)
			assertReleased(t, c.Connected())
			return err
		}},
		{"create schema", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Database(testDataSource, testOwner, "sales")
			err := c.CreateSchema(ctx, "staging")
			assertReleased(t, c.Connected())
			return err
		}},
		{"schema functions", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Schema(testDataSource, testOwner, "sales", "public")
			_, err := c.Functions(ctx)
			assertReleased(t, c.Connected())
			return err
		}},
		{"disk space", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Schema(testDataSource, testOwner, "sales", "public")
			_, err := c.DiskSpaceUsed(ctx)
			assertReleased(t, c.Connected())
			return err
		}},
		{"table exists", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Schema(testDataSource, testOwner, "sales", "public")
			_, err := c.TableExists(ctx, "orders")
			assertReleased(t, c.Connected())
			return err
		}},
		{"drop table", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Schema(testDataSource, testOwner, "sales", "public")
			err := c.DropTable(ctx, "orders")
			assertReleased(t, c.Connected())
			return err
		}},
		{"analyze", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Schema(testDataSource, testOwner, "sales", "public")
			err := c.AnalyzeTable(ctx, "orders")
			assertReleased(t, c.Connected())
			return err
		}},
		{"run", func(ctx context.Context, f datasource.Factory) error {
			c, _ := f.Schema(testDataSource, testOwner, "sales", "public")
			err := c.Run(ctx, func(ctx context.Context, s datasource.Session) error {
				_, err := s.Exec(ctx, "SELECT 1")
				return err
			})
			assertReleased(t, c.Connected())
			return err
		}},
	}

	for _, op := range ops {
		t.Run(op.name+"/success", func(t *testing.T) {
			engine := &testhelpers.FakeEngine{}
			err := op.run(context.Background(), newFactory(t, engine, datasource.ConnectionConfig{}))
			require.NoError(t, err)
			assert.Equal(t, 0, engine.OpenSessions())
			assert.Equal(t, 1, engine.Opened())
		})

		t.Run(op.name+"/failure", func(t *testing.T) {
			engine := &testhelpers.FakeEngine{
				OnQuery: func(datasource.Settings, string, []any) (*datasource.QueryResult, error) { return nil, failing },
				OnExec:  func(datasource.Settings, string, []any) (int64, error) { return 0, failing },
			}
			err := op.run(context.Background(), newFactory(t, engine, datasource.ConnectionConfig{}))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrQueryFailed)
			assert.ErrorIs(t, err, failing)
			assert.Equal(t, 0, engine.OpenSessions())
		})
	}
}

func TestSchemaConnection_RunReleasesOnPanic(t *testing.T) {
	engine := &testhelpers.FakeEngine{}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Schema(testDataSource, testOwner, "sales", "public")
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = c.Run(context.Background(), func(ctx context.Context, s datasource.Session) error {
			panic("boom")
		})
	})
	assert.False(t, c.Connected())
	assert.Equal(t, 0, engine.OpenSessions())
}

func TestSchemaConnection_CreateViewCarriesRemoteMessage(t *testing.T) {
	engine := &testhelpers.FakeEngine{
		OnExec: func(_ datasource.Settings, sql string, _ []any) (int64, error) {
			if sql == `CREATE VIEW "public"."v_orders" AS SELECT nope FROM orders` {
				return 0, errors.New(`column "nope" does not exist`)
			}
			return 0, nil
		},
	}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Schema(testDataSource, testOwner, "sales", "public")
	require.NoError(t, err)

	err = c.CreateView(context.Background(), "v_orders", "SELECT nope FROM orders")
	require.Error(t, err)

	var viewErr *datasource.CannotCreateViewError
	require.ErrorAs(t, err, &viewErr)
	assert.Equal(t, "v_orders", viewErr.View)
	assert.Contains(t, viewErr.Message, `column "nope" does not exist`)
	assert.ErrorIs(t, err, apperrors.ErrCannotCreateView)
	assert.False(t, c.Connected())
}

func TestSchemaConnection_CreateViewUnreachableIsNotViewError(t *testing.T) {
	engine := &testhelpers.FakeEngine{
		OpenErr: func(datasource.Settings) error { return errors.New("timeout") },
	}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Schema(testDataSource, testOwner, "sales", "public")
	require.NoError(t, err)

	err = c.CreateView(context.Background(), "v", "SELECT 1")
	assert.ErrorIs(t, err, apperrors.ErrInstanceUnreachable)
	assert.NotErrorIs(t, err, apperrors.ErrCannotCreateView)
}

func TestSchemaConnection_FetchSetsSearchPath(t *testing.T) {
	engine := &testhelpers.FakeEngine{}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Schema(testDataSource, testOwner, "sales", "Mixed Case")
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "SELECT * FROM orders WHERE id = $1", 7)
	require.NoError(t, err)

	stmts := engine.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, `SET search_path TO "Mixed Case"`, stmts[0].SQL)
	assert.Equal(t, "SELECT * FROM orders WHERE id = $1", stmts[1].SQL)
	assert.Equal(t, []any{7}, stmts[1].Args)
	assert.Equal(t, "sales", stmts[1].Settings.Database)
}

func TestSchemaConnection_Introspection(t *testing.T) {
	engine := &testhelpers.FakeEngine{
		OnQuery: func(_ datasource.Settings, sql string, args []any) (*datasource.QueryResult, error) {
			switch sql {
			case testhelpers.FakeFunctionsSQL:
				return testhelpers.Rows(
					[]string{"oid", "proname", "lanname", "rettype", "proargnames", "argtypes", "prosrc", "description"},
					[]any{int64(42), "add_tax", "sql", "numeric", "{amount,rate}", "numeric,numeric", "SELECT $1 * $2", nil},
				), nil
			case testhelpers.FakeDiskSpaceSQL:
				return testhelpers.Rows([]string{"size"}, []any{int64(8192)}), nil
			case testhelpers.FakeTableExistsSQL:
				if args[1] == "orders" {
					return testhelpers.Rows([]string{"count"}, []any{int64(1)}), nil
				}
				return testhelpers.Rows([]string{"count"}, []any{int64(0)}), nil
			}
			return nil, nil
		},
	}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Schema(testDataSource, testOwner, "sales", "public")
	require.NoError(t, err)
	ctx := context.Background()

	functions, err := c.Functions(ctx)
	require.NoError(t, err)
	require.Len(t, functions, 1)
	assert.Equal(t, "add_tax", functions[0].Name)
	assert.Equal(t, []string{"amount", "rate"}, functions[0].ArgNames)
	assert.Equal(t, []string{"numeric", "numeric"}, functions[0].ArgTypes)
	assert.Empty(t, functions[0].Description)

	size, err := c.DiskSpaceUsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), size)

	exists, err := c.TableExists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.TableExists(ctx, "returns")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDatabaseConnection_SchemaExists(t *testing.T) {
	engine := &testhelpers.FakeEngine{
		OnQuery: func(_ datasource.Settings, sql string, _ []any) (*datasource.QueryResult, error) {
			return testhelpers.Rows([]string{"schema_name"}, []any{"public"}, []any{"staging"}), nil
		},
	}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Database(testDataSource, testOwner, "sales")
	require.NoError(t, err)

	ok, err := c.SchemaExists(context.Background(), "staging")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SchemaExists(context.Background(), "archive")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstanceConnection_DatabaseGrantsUnsupported(t *testing.T) {
	engine := &testhelpers.FakeEngine{UnsupportedGrants: true}
	c, err := newFactory(t, engine, datasource.ConnectionConfig{}).Instance(testDataSource, testOwner)
	require.NoError(t, err)

	_, err = c.DatabaseGrants(context.Background(), []string{"alice"})
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)
	assert.Equal(t, 0, engine.Opened(), "no session should be opened for unsupported introspection")
}

func assertReleased(t *testing.T, connected bool) {
	t.Helper()
	assert.False(t, connected, "handle must be released after every operation")
}

type driverFunc func(ctx context.Context, s datasource.Settings, cfg datasource.ConnectionConfig) (datasource.Conn, error)

func (f driverFunc) Open(ctx context.Context, s datasource.Settings, cfg datasource.ConnectionConfig) (datasource.Conn, error) {
	return f(ctx, s, cfg)
}
