// Package database implements the Database Handle (spec.md §6): the single
// entry point that opens one native environment, owns the registry of
// Object Stores built on top of it, runs the version-upgrade protocol on
// connect, and coordinates combined commits across stores (spec.md §4.9
// expansion).
package database

import (
	"github.com/erigontech/stackdb/kv/enc"
	"github.com/erigontech/stackdb/kv/txstack"
)

// parseKind maps spec.md §6's keyEncoding string onto the enc.Kind the
// underlying index/key codec needs. Unrecognized or empty values default to
// String, matching a caller who never declared an encoding for an
// opaque-string primary key.
func parseKind(keyEncoding string) enc.Kind {
	switch keyEncoding {
	case "number":
		return enc.Number
	case "boolean":
		return enc.Boolean
	case "binary":
		return enc.Binary
	default:
		return enc.String
	}
}

// Always is an upgrade-condition predicate for the version-upgrade protocol
// (spec.md §6: "upgradeCondition is either a boolean or a predicate
// (oldV,newV)->bool") that returns true unconditionally.
func Always(oldVersion, newVersion int) bool { return true }

// OnUpgradeFunc is invoked once per connect() if the requested version is
// greater than the persisted one (spec.md §6 step 4).
type OnUpgradeFunc func(oldVersion, newVersion int, db *Database) error

// Options mirrors spec.md §6's open(dir, version, options).
type Options struct {
	// MaxStores bounds how many object stores (and therefore native tables)
	// the environment opens room for; 0 uses a reasonable package default.
	MaxStores int
	// MaxMapBytes is the native environment's map size ceiling.
	MaxMapBytes uint64
	// AutoResize is accepted but not read: Connect never calls Grow, so a
	// batch that runs out of map space fails with a StorageFailure error
	// whatever this is set to, and the map is not grown or retried.
	AutoResize bool
	// UseWriteMap selects the native engine's write-map mode (trades some
	// safety on power loss for avoiding a memcpy on every write).
	UseWriteMap bool
	// MinResizeBytes is the growth step Connect passes to the native map
	// geometry.
	MinResizeBytes uint64
	// OnUpgrade runs once per connect() if version increased.
	OnUpgrade OnUpgradeFunc
}

func (o Options) withDefaults() Options {
	if o.MaxStores <= 0 {
		o.MaxStores = 128
	}
	if o.MinResizeBytes == 0 {
		o.MinResizeBytes = 1 << 26 // 64 MiB
	}
	return o
}

// ObjectStoreSpec mirrors spec.md §6's createObjectStore options. KeyEncoding
// is accepted but not read: ObjectStoreHandle passes primary keys through as
// the raw []byte the caller supplies, and the field has no counterpart in
// txstack.ObjectStoreConfig.
type ObjectStoreSpec struct {
	Codec            txstack.Codec
	Persistent       bool
	KeyEncoding      string
	EnableCache      bool
	CacheSize        int
	UpgradeCondition func(oldVersion, newVersion int) bool
}

func (spec ObjectStoreSpec) toObjectStoreConfig() txstack.ObjectStoreConfig {
	return txstack.ObjectStoreConfig{
		Codec:            spec.Codec,
		Persistent:       spec.Persistent,
		EnableCache:      spec.EnableCache,
		CacheSize:        spec.CacheSize,
		UpgradeCondition: spec.UpgradeCondition,
	}
}

// DeleteObjectStoreOptions mirrors spec.md §6's deleteObjectStore options.
type DeleteObjectStoreOptions struct {
	UpgradeCondition func(oldVersion, newVersion int) bool
	IndexNames       []string
}

// IndexSpec mirrors spec.md §6's createIndex(name, keyPath, options).
type IndexSpec struct {
	Name             string
	KeyPath          string
	Unique           bool
	MultiEntry       bool
	KeyEncoding      string
	UpgradeCondition func(oldVersion, newVersion int) bool
}

func (spec IndexSpec) toIndexConfig() txstack.IndexConfig {
	return txstack.IndexConfig{
		Name:             spec.Name,
		KeyPath:          spec.KeyPath,
		Unique:           spec.Unique,
		MultiEntry:       spec.MultiEntry,
		Kind:             parseKind(spec.KeyEncoding),
		UpgradeCondition: spec.UpgradeCondition,
	}
}
