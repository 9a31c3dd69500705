package mssql

import (
	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.EngineRegistration{
		Info: datasource.EngineInfo{
			Type:        "sqlserver",
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+ (bulk insert used for copy staging)",
		},
		Driver:        Driver{},
		Dialect:       Dialect{},
		MaintenanceDB: "master",
	})
}
