package database

import (
	"encoding/binary"

	"github.com/erigontech/stackdb/internal/log"
	"github.com/erigontech/stackdb/kv"
	"github.com/erigontech/stackdb/kv/mdbx"
	"github.com/erigontech/stackdb/kverrors"
)

func (db *Database) readVersion() (int, error) {
	raw, ok, err := db.backend.Get(kv.MetaTable, kv.DBVersionKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, kverrors.New(kverrors.KindStorageFailure, "corrupt _dbVersion meta entry")
	}
	return int(binary.BigEndian.Uint64(raw)), nil
}

func (db *Database) writeVersion(v int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return db.backend.ApplyBatch([]mdbx.Mutation{{Table: kv.MetaTable, Key: kv.DBVersionKey, Value: buf}})
}

func conditionPasses(cond func(oldVersion, newVersion int) bool, oldVersion, newVersion int) bool {
	if cond == nil {
		return true
	}
	return cond(oldVersion, newVersion)
}

// runUpgradeProtocol implements spec.md §6's five-step version-upgrade
// protocol, run once by Connect. Caller must hold db.mu.
func (db *Database) runUpgradeProtocol() error {
	oldVersion, err := db.readVersion()
	if err != nil {
		return err
	}
	newVersion := db.version

	// Step 2: deletions whose upgradeCondition passes.
	for _, del := range db.pendingDeletions {
		if !conditionPasses(del.opts.UpgradeCondition, oldVersion, newVersion) {
			continue
		}
		if err := db.deleteObjectStoreLocked(del.name, del.opts); err != nil {
			return err
		}
	}
	db.pendingDeletions = nil

	// Step 3: initialize each pending store; populate indices declared new
	// this round.
	for _, ps := range db.pendingStores {
		if !conditionPasses(ps.spec.UpgradeCondition, oldVersion, newVersion) {
			continue
		}
		if err := db.createObjectStoreLocked(ps.name, ps.spec); err != nil {
			return err
		}
		store := db.stores[ps.name]
		for _, idx := range ps.indices {
			if !conditionPasses(idx.UpgradeCondition, oldVersion, newVersion) {
				continue
			}
			if err := store.CreateIndex(idx.toIndexConfig()); err != nil {
				return err
			}
			if err := store.BackfillIndex(idx.Name); err != nil {
				return err
			}
		}
	}
	db.pendingStores = nil

	// Step 4: user-supplied onUpgrade, once, only if the version advanced.
	// db.mu is released for the duration of the callback: onUpgrade is
	// documented to receive db and plausibly calls back into its own
	// methods (Store, CreateObjectStore, ...), every one of which takes
	// db.mu itself.
	if newVersion > oldVersion && db.opts.OnUpgrade != nil {
		db.mu.Unlock()
		err := db.opts.OnUpgrade(oldVersion, newVersion, db)
		db.mu.Lock()
		if err != nil {
			return err
		}
	}

	// Step 5: persist the new version.
	if newVersion != oldVersion {
		if err := db.writeVersion(newVersion); err != nil {
			return err
		}
	}
	log.Info("schema upgrade protocol complete", "oldVersion", oldVersion, "newVersion", newVersion)
	return nil
}
