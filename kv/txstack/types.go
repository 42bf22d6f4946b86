// Package txstack is the transaction-layering core (spec.md §4.5-§4.7):
// the stacked-state Object Store, its Transaction overlays, Snapshots, and
// the cross-store Combined Transaction.
package txstack

import (
	"encoding/json"

	"github.com/erigontech/stackdb/kv/enc"
)

// Key is an already-encoded primary key.
type Key = []byte

// Value is a structured document, matching kv/memindex.Value so index
// key-path extraction can read it directly.
type Value = map[string]any

// Codec serializes a Value to/from bytes for the persistent backend.
// Serialization format itself is out of this module's core scope (spec.md
// §1); the default is a plain JSON codec, swappable via
// ObjectStoreConfig.Codec for callers who want a denser wire format.
type Codec interface {
	Encode(Value) ([]byte, error)
	Decode([]byte) (Value, error)
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

func (JSONCodec) Encode(v Value) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Decode(b []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// IndexConfig mirrors memindex.Config plus the upgrade-migration predicate
// named in spec.md §6.
type IndexConfig struct {
	Name             string
	KeyPath          string
	Unique           bool
	MultiEntry       bool
	Kind             enc.Kind
	UpgradeCondition func(oldVersion, newVersion int) bool
}

// ObjectStoreConfig mirrors spec.md §6's createObjectStore options.
type ObjectStoreConfig struct {
	Codec            Codec
	Persistent       bool
	EnableCache      bool
	CacheSize        int
	UpgradeCondition func(oldVersion, newVersion int) bool
}
