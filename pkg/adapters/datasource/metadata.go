package datasource

import (
	"fmt"
	"strconv"
	"strings"
)

// DatabaseGrant pairs a remote database with a role that may connect to it.
type DatabaseGrant struct {
	DatabaseName string
	DBUsername   string
}

// FunctionInfo describes a routine defined in a schema.
type FunctionInfo struct {
	OID         int64
	Name        string
	Language    string
	ReturnType  string
	ArgNames    []string
	ArgTypes    []string
	Definition  string
	Description string
}

// DatasetInfo is a table-like object reported by the remote catalog.
type DatasetInfo struct {
	Name string
	Kind string // "table", "view", "external_table"
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func asInt64(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(val), 10, 64)
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return strconv.ParseInt(fmt.Sprint(val), 10, 64)
	}
}

// splitList splits a comma separated catalog list, dropping empty entries.
func splitList(v any) []string {
	s := strings.Trim(asString(v), "{}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
