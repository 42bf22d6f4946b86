package kv

import "fmt"

// Label distinguishes the handful of native environments a process may open
// (chain data vs. an in-memory test database, say). Most stackdb users only
// ever open one; the distinction exists because the Database Handle and the
// CLI share one environment-open code path (spec.md §6).
type Label uint8

const (
	MainDB Label = 0
	InMem  Label = 1
)

func (l Label) String() string {
	switch l {
	case MainDB:
		return "main"
	case InMem:
		return "inMem"
	default:
		return "unknown"
	}
}

// TableFlags mirror the native engine's per-table layout options.
type TableFlags uint

const (
	Default    TableFlags = 0x00
	ReverseKey TableFlags = 0x02
	// DupSort marks a table where one key may have many sorted values
	// ("duplicates"). Every persistent (non-unique) secondary index table
	// is DupSort; see spec.md §4.3.
	DupSort    TableFlags = 0x04
	IntegerKey TableFlags = 0x08
	IntegerDup TableFlags = 0x20
	ReverseDup TableFlags = 0x40
)

// TableCfgItem is the native-table configuration for one object store table
// or one secondary-index table.
type TableCfgItem struct {
	Flags TableFlags
	// Unique additionally asks the persistent index to reject a duplicate
	// secondary key with a no-overwrite put (spec.md §4.3); only meaningful
	// combined with DupSort.
	Unique bool
}

// TableCfg is the full native-table layout for one environment, keyed by
// table name.
type TableCfg map[string]TableCfgItem

// StoreTable is the native table name for an object store's primary data.
func StoreTable(storeName string) string {
	return storeName
}

// IndexTable is the native table name for one secondary index of one object
// store, per spec.md §6 "Persisted layout": `_<storeName>-<indexName>`.
func IndexTable(storeName, indexName string) string {
	return fmt.Sprintf("_%s-%s", storeName, indexName)
}

// MetaTable is the reserved table holding database-wide metadata, including
// the `_dbVersion` key (spec.md §6).
const MetaTable = "_stackdb_meta"

// DBVersionKey is the meta key storing the current schema version as an
// 8-byte big-endian number.
var DBVersionKey = []byte("_dbVersion")
