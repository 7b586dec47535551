// Package database stores templates in an embedded badger database with
// secondary indexes on name, creation and modification time.
package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/template"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	Driver struct {
		l        *zap.Logger
		dir      string
		inMemory bool
		capacity int64
		clock    template.Clock
		db       *badger.DB
		// serializes writers so transactions never conflict
		writeMu sync.Mutex
		mu      sync.RWMutex
	}
	Option func(*Driver)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Driver {
	inst := &Driver{
		l:        l.Named("database"),
		capacity: storage.Unbounded,
		clock:    template.NewMonotonicClock(),
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

// WithDir stores the database files in dir
func WithDir(dir string) Option {
	return func(o *Driver) {
		o.dir = dir
	}
}

// WithInMemory keeps the database in memory only
func WithInMemory(v bool) Option {
	return func(o *Driver) {
		o.inMemory = v
	}
}

// WithCapacity sets the capacity reported by Info
func WithCapacity(v int64) Option {
	return func(o *Driver) {
		if v > 0 {
			o.capacity = v
		}
	}
}

func WithClock(c template.Clock) Option {
	return func(o *Driver) {
		o.clock = c
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (d *Driver) Type() storage.Type {
	return storage.TypeDatabase
}

// IsSupported checks that the database directory exists or can be created
// without touching it
func (d *Driver) IsSupported(ctx context.Context) bool {
	if d.inMemory {
		return true
	}
	if d.dir == "" {
		return false
	}
	dir := filepath.Clean(d.dir)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			return info.IsDir()
		}
		if !os.IsNotExist(err) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	var opts badger.Options
	if d.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if d.dir == "" {
			return errors.Wrap(storage.ErrUnsupported, "no database directory configured")
		}
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create database directory %s", d.dir)
		}
		opts = badger.DefaultOptions(d.dir)
	}
	opts.Logger = &logger{l: d.l.Sugar()}
	opts.Compression = options.None
	db, err := badger.Open(opts)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	d.db = db
	d.l.Debug("initialized", zap.String("dir", d.dir), zap.Bool("inMemory", d.inMemory))
	return nil
}

// GetAll walks the creation index from newest to oldest
func (d *Driver) GetAll(ctx context.Context) ([]template.Template, error) {
	templates := []template.Template{}
	err := d.view(func(tx *badger.Txn) error {
		return walkTimeIndex(tx, createdIndexPrefix, 0, func(t template.Template) {
			templates = append(templates, t)
		})
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

func (d *Driver) Save(ctx context.Context, draft template.Draft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	t := draft.Materialize(template.NewID(), d.clock.Now())
	err := d.update(func(tx *badger.Txn) error {
		return writeRecord(tx, nil, t)
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (d *Driver) Put(ctx context.Context, t template.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return d.update(func(tx *badger.Txn) error {
		previous, err := getRecord(tx, t.ID)
		if err != nil {
			return err
		}
		return writeRecord(tx, previous, t)
	})
}

func (d *Driver) Update(ctx context.Context, id string, patch template.Patch) (bool, error) {
	var found bool
	err := d.update(func(tx *badger.Txn) error {
		previous, err := getRecord(tx, id)
		if err != nil || previous == nil {
			return err
		}
		next, err := previous.Apply(patch, d.clock.Now())
		if err != nil {
			return err
		}
		found = true
		return writeRecord(tx, previous, next)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	var found bool
	err := d.update(func(tx *badger.Txn) error {
		previous, err := getRecord(tx, id)
		if err != nil || previous == nil {
			return err
		}
		found = true
		return deleteRecord(tx, *previous)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (d *Driver) Get(ctx context.Context, id string) (*template.Template, error) {
	var t *template.Template
	err := d.view(func(tx *badger.Txn) error {
		var err error
		t, err = getRecord(tx, id)
		return err
	})
	return t, err
}

// Clear deletes all records and indexes
func (d *Driver) Clear(ctx context.Context) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	var keys [][]byte
	err = db.View(func(tx *badger.Txn) error {
		for _, prefix := range []string{recordPrefix, indexPrefix} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix)
			iter := tx.NewIterator(opts)
			for iter.Rewind(); iter.Valid(); iter.Next() {
				keys = append(keys, iter.Item().KeyCopy(nil))
			}
			iter.Close()
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to list keys")
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return errors.Wrap(err, "failed to delete key")
		}
	}
	return errors.Wrap(wb.Flush(), "failed to clear templates")
}

// Info reports the on disk size, or the summed record size in memory mode
func (d *Driver) Info(ctx context.Context) (storage.Info, error) {
	db, err := d.handle()
	if err != nil {
		return storage.Info{}, err
	}
	lsm, vlog := db.Size()
	used := lsm + vlog
	if used == 0 {
		err = db.View(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(recordPrefix)
			iter := tx.NewIterator(opts)
			defer iter.Close()
			for iter.Rewind(); iter.Valid(); iter.Next() {
				used += iter.Item().EstimatedSize()
			}
			return nil
		})
		if err != nil {
			return storage.Info{}, errors.Wrap(err, "failed to estimate size")
		}
	}
	return storage.NewInfo(used, d.capacity), nil
}

// FindByName returns all templates named exactly name
func (d *Driver) FindByName(ctx context.Context, name string) ([]template.Template, error) {
	templates := []template.Template{}
	err := d.view(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = namePrefix(name)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			id := string(iter.Item().Key()[len(opts.Prefix):])
			t, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			if t != nil {
				templates = append(templates, *t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	template.SortByCreatedDesc(templates)
	return templates, nil
}

// RecentlyUpdated returns up to limit templates, most recently updated first
func (d *Driver) RecentlyUpdated(ctx context.Context, limit int) ([]template.Template, error) {
	templates := []template.Template{}
	err := d.view(func(tx *badger.Txn) error {
		return walkTimeIndex(tx, updatedIndexPrefix, limit, func(t template.Template) {
			templates = append(templates, t)
		})
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return errors.Wrap(err, "failed to close database")
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (d *Driver) handle() (*badger.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, storage.ErrNotInitialized
	}
	return d.db, nil
}

func (d *Driver) view(fn func(tx *badger.Txn) error) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	return db.View(fn)
}

func (d *Driver) update(fn func(tx *badger.Txn) error) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return db.Update(fn)
}

// ------------------------------------------------------------------------------------------------
// ~ Private functions
// ------------------------------------------------------------------------------------------------

func getRecord(tx *badger.Txn, id string) (*template.Template, error) {
	item, err := tx.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read template %s", id)
	}
	var t template.Template
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode template %s", id)
	}
	return &t, nil
}

// writeRecord stores t and its index entries, replacing those of previous
func writeRecord(tx *badger.Txn, previous *template.Template, t template.Template) error {
	if previous != nil {
		if err := deleteIndexes(tx, *previous); err != nil {
			return err
		}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrapf(err, "failed to encode template %s", t.ID)
	}
	if err := tx.Set(recordKey(t.ID), data); err != nil {
		return errors.Wrapf(err, "failed to write template %s", t.ID)
	}
	for _, key := range [][]byte{
		nameKey(t.Name, t.ID),
		createdKey(t.CreatedAt, t.ID),
		updatedKey(t.UpdatedAt, t.ID),
	} {
		if err := tx.Set(key, nil); err != nil {
			return errors.Wrapf(err, "failed to index template %s", t.ID)
		}
	}
	return nil
}

func deleteRecord(tx *badger.Txn, t template.Template) error {
	if err := deleteIndexes(tx, t); err != nil {
		return err
	}
	return errors.Wrapf(tx.Delete(recordKey(t.ID)), "failed to delete template %s", t.ID)
}

func deleteIndexes(tx *badger.Txn, t template.Template) error {
	for _, key := range [][]byte{
		nameKey(t.Name, t.ID),
		createdKey(t.CreatedAt, t.ID),
		updatedKey(t.UpdatedAt, t.ID),
	} {
		if err := tx.Delete(key); err != nil {
			return errors.Wrapf(err, "failed to delete index of template %s", t.ID)
		}
	}
	return nil
}

// walkTimeIndex visits the records of a time index newest first. A limit
// of zero or less visits all records.
func walkTimeIndex(tx *badger.Txn, prefix string, limit int, fn func(t template.Template)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	opts.Prefix = []byte(prefix)
	iter := tx.NewIterator(opts)
	defer iter.Close()
	n := 0
	for iter.Seek(seekEnd(prefix)); iter.Valid(); iter.Next() {
		id := idFromTimeKey(prefix, iter.Item().Key())
		t, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}
		fn(*t)
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return nil
}
