package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	badgerMetaKey   = "vecdb/meta"
	badgerLibPrefix = "vecdb/lib/"
)

// badgerMeta is stored under badgerMetaKey and fixes library order.
type badgerMeta struct {
	Version    int       `msgpack:"version"`
	SavedAt    time.Time `msgpack:"saved_at"`
	LibraryIDs []string  `msgpack:"library_ids"`
}

// BadgerOptions configures the Badger backend.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for tests.
	InMemory bool

	// Logger sets the badger logger. Nil silences badger.
	Logger badger.Logger
}

// Badger stores one msgpack-encoded LibraryRecord per key plus a meta key
// listing library order. Each Save runs in a single transaction.
type Badger struct {
	db *badger.DB
}

// NewBadger opens the database described by opts.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("snapshot: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(silentLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := badgerMeta{Version: snap.Version, SavedAt: snap.SavedAt}
	values := make(map[string][]byte, len(snap.Libraries))
	for _, lib := range snap.Libraries {
		data, err := msgpack.Marshal(&lib)
		if err != nil {
			return fmt.Errorf("snapshot: encode library %s: %w", lib.ID, err)
		}
		values[badgerLibPrefix+lib.ID] = data
		meta.LibraryIDs = append(meta.LibraryIDs, lib.ID)
	}
	metaData, err := msgpack.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("snapshot: encode meta: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		stale, err := libraryKeys(txn)
		if err != nil {
			return err
		}
		for _, k := range stale {
			if _, keep := values[k]; keep {
				continue
			}
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range values {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return txn.Set([]byte(badgerMetaKey), metaData)
	})
	if err != nil {
		return fmt.Errorf("snapshot: badger save: %w", err)
	}
	return nil
}

func libraryKeys(txn *badger.Txn) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(badgerLibPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys, nil
}

func (b *Badger) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := empty()
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerMetaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var meta badgerMeta
		if err := msgpack.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
		snap.Version = meta.Version
		snap.SavedAt = meta.SavedAt

		for _, id := range meta.LibraryIDs {
			item, err := txn.Get([]byte(badgerLibPrefix + id))
			if err != nil {
				return fmt.Errorf("library %s: %w", id, err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var lib LibraryRecord
			if err := msgpack.Unmarshal(raw, &lib); err != nil {
				return fmt.Errorf("decode library %s: %w", id, err)
			}
			snap.Libraries = append(snap.Libraries, lib)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: badger load: %w", err)
	}
	return snap, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// silentLogger suppresses badger output.
type silentLogger struct{}

func (silentLogger) Errorf(string, ...any)   {}
func (silentLogger) Warningf(string, ...any) {}
func (silentLogger) Infof(string, ...any)    {}
func (silentLogger) Debugf(string, ...any)   {}
