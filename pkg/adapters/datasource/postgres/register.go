package postgres

import (
	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.EngineRegistration{
		Info: datasource.EngineInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+",
		},
		Driver:        Driver{},
		Dialect:       Dialect{},
		MaintenanceDB: "postgres",
	})
	datasource.Register(datasource.EngineRegistration{
		Info: datasource.EngineInfo{
			Type:        "greenplum",
			DisplayName: "Greenplum Database",
			Description: "Greenplum 6+ (external web tables used for copy staging)",
		},
		Driver:        Driver{},
		Dialect:       Dialect{Greenplum: true},
		MaintenanceDB: "postgres",
	})
}
