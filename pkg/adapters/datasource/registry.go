package datasource

import (
	"slices"
	"strings"
	"sync"
)

// EngineInfo describes a registered engine family.
type EngineInfo struct {
	Type        string `json:"type"`         // "postgres", "greenplum", "sqlserver"
	DisplayName string `json:"display_name"` // "Greenplum Database"
	Description string `json:"description"`
}

// EngineRegistration binds an engine family to its driver and SQL dialect.
type EngineRegistration struct {
	Info    EngineInfo
	Driver  Driver
	Dialect Dialect
	// MaintenanceDB is the database instance-scoped handles connect to when
	// the data source does not name one.
	MaintenanceDB string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]EngineRegistration)
)

// Register is called by each engine package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg EngineRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredEngines returns info for all registered engines, sorted by type.
func RegisteredEngines() []EngineInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EngineInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	slices.SortFunc(result, func(a, b EngineInfo) int {
		return strings.Compare(a.Type, b.Type)
	})
	return result
}

// Lookup returns the registration for an engine type.
func Lookup(engine string) (EngineRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[engine]
	return reg, ok
}

// IsRegistered checks if an engine type is available.
func IsRegistered(engine string) bool {
	_, ok := Lookup(engine)
	return ok
}
