package database

import (
	"sync"

	"github.com/spf13/afero"

	"github.com/erigontech/stackdb/internal/log"
	"github.com/erigontech/stackdb/kv"
	"github.com/erigontech/stackdb/kv/mdbx"
	"github.com/erigontech/stackdb/kv/txstack"
	"github.com/erigontech/stackdb/kverrors"
)

// pendingStore is a store declared (via CreateObjectStore) before connect()
// reconciles it against the persisted schema version.
type pendingStore struct {
	name    string
	spec    ObjectStoreSpec
	indices []IndexSpec
}

// pendingDeletion is a store marked for removal (via DeleteObjectStore)
// before connect() decides whether its upgradeCondition actually fires.
type pendingDeletion struct {
	name string
	opts DeleteObjectStoreOptions
}

// Database is the Database Handle of spec.md §6: one native environment,
// the registry of Object Stores opened against it, and the version-upgrade
// runner that reconciles pending schema changes on connect().
type Database struct {
	mu sync.Mutex

	dir     string
	version int
	opts    Options

	backend   *mdbx.Backend
	connected bool

	stores map[string]*txstack.ObjectStore

	pendingStores    []*pendingStore
	pendingDeletions []*pendingDeletion

	fs afero.Fs
}

// Open builds a Database Handle rooted at dir without touching the native
// environment yet (spec.md §6 separates open() from connect()).
func Open(dir string, version int, opts Options) (*Database, error) {
	if version < 0 {
		return nil, kverrors.New(kverrors.KindUnsupportedOperation, "version must be >= 0")
	}
	return &Database{
		dir:     dir,
		version: version,
		opts:    opts.withDefaults(),
		stores:  make(map[string]*txstack.ObjectStore),
		fs:      afero.NewOsFs(),
	}, nil
}

// Name identifies this Database Handle to its Object Stores, so
// txstack.CombinedTransaction can refuse to mix participants from two
// different databases.
func (db *Database) Name() string { return db.dir }

// CreateObjectStore registers an object store (spec.md §6). Before
// connect(), the registration is only queued: the version-upgrade protocol
// decides whether to actually create its native table. After connect(), the
// store is created immediately against the live environment.
func (db *Database) CreateObjectStore(name string, spec ObjectStoreSpec) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		db.pendingStores = append(db.pendingStores, &pendingStore{name: name, spec: spec})
		return nil
	}
	return db.createObjectStoreLocked(name, spec)
}

// CreateIndex registers a secondary index against name, queuing it for the
// upgrade protocol's backfill decision if not yet connected, or creating and
// backfilling it immediately otherwise.
func (db *Database) CreateIndex(storeName string, spec IndexSpec) error {
	db.mu.Lock()
	if !db.connected {
		for _, p := range db.pendingStores {
			if p.name == storeName {
				p.indices = append(p.indices, spec)
				db.mu.Unlock()
				return nil
			}
		}
		db.mu.Unlock()
		return kverrors.Newf(kverrors.KindUnsupportedOperation, "no pending object store %q", storeName)
	}
	store, ok := db.stores[storeName]
	db.mu.Unlock()
	if !ok {
		return kverrors.Newf(kverrors.KindNotConnected, "no such object store %q", storeName)
	}
	if err := store.CreateIndex(spec.toIndexConfig()); err != nil {
		return err
	}
	return store.BackfillIndex(spec.Name)
}

// DeleteObjectStore marks name for removal (spec.md §6). Like
// CreateObjectStore, this only takes effect immediately when already
// connected; otherwise the upgrade protocol decides at the next connect().
func (db *Database) DeleteObjectStore(name string, opts DeleteObjectStoreOptions) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		db.pendingDeletions = append(db.pendingDeletions, &pendingDeletion{name: name, opts: opts})
		return nil
	}
	return db.deleteObjectStoreLocked(name, opts)
}

func (db *Database) createObjectStoreLocked(name string, spec ObjectStoreSpec) error {
	store, err := txstack.NewObjectStore(name, spec.toObjectStoreConfig(), db.backend, db)
	if err != nil {
		return err
	}
	db.stores[name] = store
	return nil
}

func (db *Database) deleteObjectStoreLocked(name string, opts DeleteObjectStoreOptions) error {
	delete(db.stores, name)
	if db.backend == nil {
		return nil
	}
	if err := db.backend.DropTable(kv.StoreTable(name)); err != nil {
		return err
	}
	for _, idxName := range opts.IndexNames {
		if err := db.backend.DropTable(kv.IndexTable(name, idxName)); err != nil {
			return err
		}
	}
	return nil
}

// Connect opens the native environment and runs the version-upgrade
// protocol (spec.md §6 "Version upgrade protocol"). Safe to call only once
// per Database Handle.
func (db *Database) Connect() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.connected {
		return kverrors.New(kverrors.KindUnsupportedOperation, "database is already connected")
	}

	backend, err := mdbx.OpenGeometry(db.dir, db.opts.MaxStores+1, mdbx.GeometryOptions{
		MaxMapBytes:    db.opts.MaxMapBytes,
		UseWriteMap:    db.opts.UseWriteMap,
		MinResizeBytes: db.opts.MinResizeBytes,
	})
	if err != nil {
		return err
	}
	if err := backend.EnsureTable(kv.MetaTable, kv.TableCfgItem{}); err != nil {
		return err
	}
	db.backend = backend
	db.connected = true

	if err := db.runUpgradeProtocol(); err != nil {
		return err
	}
	log.Info("database connected", "dir", db.dir, "version", db.version)
	return nil
}

// Close releases the native environment, leaving the registry intact so a
// caller inspecting store names after Close still sees them.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		return nil
	}
	db.connected = false
	return db.backend.Close()
}

// Destroy closes the environment (if open) and removes the database
// directory from disk entirely (spec.md §6 "destroy()").
func (db *Database) Destroy() error {
	if err := db.Close(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fs.RemoveAll(db.dir); err != nil {
		return kverrors.Wrap(kverrors.KindStorageFailure, err, "destroy database directory")
	}
	return nil
}

// Compact copies the connected environment's live data into a fresh
// environment at destPath, dropping accumulated free-page bookkeeping. The
// source environment is left open and untouched; callers that want to
// replace it swap destPath in afterward.
func (db *Database) Compact(destPath string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		return kverrors.New(kverrors.KindNotConnected, "database is not connected")
	}
	return db.backend.Compact(destPath)
}

// Size reports the connected environment's current memory-map usage in
// bytes (spec.md §6 "maxMapBytes"; the `inspect` CLI command's "size" line).
func (db *Database) Size() (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		return 0, kverrors.New(kverrors.KindNotConnected, "database is not connected")
	}
	return db.backend.Size()
}

// Version reports the schema version persisted in the `_dbVersion` meta
// entry (the `inspect` CLI command's "version" line). It reads the native
// environment directly rather than trusting the version Open was called
// with; before Connect it returns a NotConnected error.
func (db *Database) Version() (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		return 0, kverrors.New(kverrors.KindNotConnected, "database is not connected")
	}
	return db.readVersion()
}

// Store returns the named object store's handle, or (nil, false) if it does
// not exist.
func (db *Database) Store(name string) (*ObjectStoreHandle, bool) {
	db.mu.Lock()
	store, ok := db.stores[name]
	db.mu.Unlock()
	if !ok {
		return nil, false
	}
	return newObjectStoreHandle(store), true
}

// StoreNames lists every registered object store.
func (db *Database) StoreNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.stores))
	for name := range db.stores {
		names = append(names, name)
	}
	return names
}

// CommitCombined wraps txstack.Commit: it commits txs atomically across
// their object stores, returning true on success and false on any conflict
// (spec.md §6 "commitCombined").
func (db *Database) CommitCombined(txs ...*txstack.Transaction) (bool, error) {
	return txstack.Commit(txs...)
}
