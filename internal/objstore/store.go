// Package objstore is a reference backend that applies pgtx transactions
// to objects kept in badger.
//
// Each Apply runs as a single badger read-write transaction, so either every
// queued operation lands or none does. Object data is zstd compressed and,
// when the store is configured with data shards, Reed-Solomon coded so reads
// survive the loss of up to ParityShards shards.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	pgtx "github.com/i5heu/ouroboros-pgtx"
	"github.com/i5heu/ouroboros-pgtx/internal/erasure"
	"github.com/klauspost/compress/zstd"
)

const (
	logKeyPath    = "path"
	logKeyApplyID = "applyId"
	logKeyObject  = "object"
	logKeyInit    = "init"
	logKeyOps     = "ops"
	logKeyBytes   = "bytes"
	logKeyShards  = "shards"
	logKeyError   = "error"
)

var (
	ErrNotFound = errors.New("objstore: object not found")
	ErrClosed   = errors.New("objstore: store closed")

	ErrObjectTooLarge = errors.New("objstore: object too large")
)

// Store holds objects in badger and applies transactions to them.
type Store struct {
	cfg Config
	log *slog.Logger
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	// mu serializes Apply and Close
	mu     sync.Mutex
	closed atomic.Bool
}

// ObjectInfo is the metadata returned by Stat.
type ObjectInfo struct {
	ID        pgtx.ObjectID
	Size      uint64
	Snaps     []pgtx.SnapID
	AllocHint *pgtx.AllocHint
}

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) { // A
	cfg.setDefaults()
	if err := cfg.checkConfig(); err != nil {
		return nil, fmt.Errorf("objstore: check config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.ValueLogFileSize = 1024 * 1024 * 100
	}
	opts = opts.WithLogger(cfg.BadgerLogger).WithSyncWrites(false)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("objstore: open badger: %w", err)
	}

	encOpts := []zstd.EOption{}
	if cfg.CompressionLevel > 0 {
		encOpts = append(encOpts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
	}
	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("objstore: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("objstore: zstd decoder: %w", err)
	}

	if !cfg.InMemory {
		if err := logDiskUsage(context.Background(), cfg.Logger, cfg.Path); err != nil {
			cfg.Logger.Warn("could not read disk usage", logKeyPath, cfg.Path, logKeyError, err)
		}
	}

	return &Store{
		cfg: cfg,
		log: cfg.Logger,
		db:  db,
		enc: enc,
		dec: dec,
	}, nil
}

// Close flushes and closes the store. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return ErrClosed
	}
	_ = s.enc.Close()
	s.dec.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("objstore: close badger: %w", err)
	}
	return nil
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) loadMeta(txn *badger.Txn, id pgtx.ObjectID) (meta, error) {
	item, err := txn.Get(keyPrefix(kindMeta, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return meta{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return meta{}, err
	}
	return unmarshalMeta(raw)
}

// Stat returns the metadata of id.
func (s *Store) Stat(ctx context.Context, id pgtx.ObjectID) (ObjectInfo, error) {
	var info ObjectInfo
	err := s.view(ctx, func(txn *badger.Txn) error {
		m, err := s.loadMeta(txn, id)
		if err != nil {
			return err
		}
		info = ObjectInfo{
			ID:        id,
			Size:      m.size,
			Snaps:     m.snaps,
			AllocHint: m.allocHint,
		}
		return nil
	})
	return info, err
}

// Read returns up to n bytes of id starting at off. Reads past the end of
// the object are clipped.
func (s *Store) Read(
	ctx context.Context,
	id pgtx.ObjectID,
	off, n uint64,
) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		m, err := s.loadMeta(txn, id)
		if err != nil {
			return err
		}
		data, err := s.loadData(txn, id, m)
		if err != nil {
			return err
		}
		if off >= uint64(len(data)) {
			out = []byte{}
			return nil
		}
		end := uint64(len(data))
		if n < end-off {
			end = off + n
		}
		out = data[off:end]
		return nil
	})
	return out, err
}

// GetAttrs returns every attribute of id.
func (s *Store) GetAttrs(
	ctx context.Context,
	id pgtx.ObjectID,
) (map[string][]byte, error) {
	var attrs map[string][]byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		if _, err := s.loadMeta(txn, id); err != nil {
			return err
		}
		var err error
		attrs, err = loadSuffixMap(txn, kindAttr, id)
		return err
	})
	return attrs, err
}

// GetOmap returns every omap entry of id.
func (s *Store) GetOmap(
	ctx context.Context,
	id pgtx.ObjectID,
) (map[string][]byte, error) {
	var omap map[string][]byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		if _, err := s.loadMeta(txn, id); err != nil {
			return err
		}
		var err error
		omap, err = loadSuffixMap(txn, kindOmap, id)
		return err
	})
	return omap, err
}

// GetOmapHeader returns the omap header of id, nil if none was set.
func (s *Store) GetOmapHeader(ctx context.Context, id pgtx.ObjectID) ([]byte, error) {
	var header []byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		m, err := s.loadMeta(txn, id)
		header = m.header
		return err
	})
	return header, err
}

// Snaps returns the snap set recorded for id.
func (s *Store) Snaps(ctx context.Context, id pgtx.ObjectID) ([]pgtx.SnapID, error) {
	info, err := s.Stat(ctx, id)
	return info.Snaps, err
}

// List returns the ids of every stored object in ObjectID.Compare order.
func (s *Store) List(ctx context.Context) ([]pgtx.ObjectID, error) {
	var ids []pgtx.ObjectID
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte{kindMeta}, false, func(key, _ []byte) error {
			id, err := pgtx.ParseObjectID(key[1:])
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(ids, pgtx.ObjectID.Compare)
	return ids, nil
}

// scanPrefix calls fn for every key starting with prefix. Values are only
// fetched when withValues is set.
func scanPrefix(
	txn *badger.Txn,
	prefix []byte,
	withValues bool,
	fn func(key, val []byte) error,
) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = withValues
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		var val []byte
		if withValues {
			var err error
			val, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

func loadSuffixMap(
	txn *badger.Txn,
	kind byte,
	id pgtx.ObjectID,
) (map[string][]byte, error) {
	prefix := keyPrefix(kind, id)
	out := make(map[string][]byte)
	err := scanPrefix(txn, prefix, true, func(key, val []byte) error {
		out[string(key[len(prefix):])] = val
		return nil
	})
	return out, err
}

func (s *Store) loadData(txn *badger.Txn, id pgtx.ObjectID, m meta) ([]byte, error) {
	if m.size == 0 {
		return []byte{}, nil
	}

	var compressed []byte
	if m.dataShards > 0 {
		var shards []erasure.Shard
		err := scanPrefix(txn, keyPrefix(kindShard, id), true, func(key, val []byte) error {
			shard, err := erasure.ParseShard(val)
			if err != nil {
				s.log.Warn("dropping unreadable shard",
					logKeyObject, id.String(),
					logKeyError, err)
				return nil
			}
			shards = append(shards, shard)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(shards) < int(m.dataShards)+int(m.parityShards) {
			s.log.Warn("object has missing shards",
				logKeyObject, id.String(),
				logKeyShards, len(shards))
		}
		compressed, err = erasure.Decode(shards)
		if err != nil {
			return nil, fmt.Errorf("objstore: data of %s: %w", id, err)
		}
	} else {
		item, err := txn.Get(keyPrefix(kindData, id))
		if err != nil {
			return nil, fmt.Errorf("objstore: data of %s: %w", id, err)
		}
		compressed, err = item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
	}

	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("objstore: decompress %s: %w", id, err)
	}
	if uint64(len(data)) != m.size {
		return nil, fmt.Errorf("objstore: data of %s has %d bytes, want %d", id, len(data), m.size)
	}
	return data, nil
}

// loadObject reads the full state of id, nil if it does not exist.
func (s *Store) loadObject(txn *badger.Txn, id pgtx.ObjectID) (*object, error) {
	m, err := s.loadMeta(txn, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := s.loadData(txn, id, m)
	if err != nil {
		return nil, err
	}
	attrs, err := loadSuffixMap(txn, kindAttr, id)
	if err != nil {
		return nil, err
	}
	omap, err := loadSuffixMap(txn, kindOmap, id)
	if err != nil {
		return nil, err
	}
	return &object{
		data:      data,
		attrs:     attrs,
		omap:      omap,
		header:    m.header,
		snaps:     m.snaps,
		allocHint: m.allocHint,
	}, nil
}

// storeObject replaces whatever is stored for id with obj. A nil obj
// deletes the object.
func (s *Store) storeObject(txn *badger.Txn, id pgtx.ObjectID, obj *object) error {
	var stale [][]byte
	for _, kind := range allKinds {
		err := scanPrefix(txn, keyPrefix(kind, id), false, func(key, _ []byte) error {
			stale = append(stale, key)
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	if obj == nil {
		return nil
	}

	m := meta{
		size:      uint64(len(obj.data)),
		header:    obj.header,
		snaps:     obj.snaps,
		allocHint: obj.allocHint,
	}
	if len(obj.data) > 0 {
		compressed := s.enc.EncodeAll(obj.data, nil)
		if s.cfg.DataShards > 0 {
			k, p := uint8(s.cfg.DataShards), uint8(s.cfg.ParityShards)
			shards, err := erasure.Encode(compressed, k, p)
			if err != nil {
				return err
			}
			for _, shard := range shards {
				key := keyWithSuffix(kindShard, id, []byte{shard.Index})
				if err := txn.Set(key, shard.AppendBinary(nil)); err != nil {
					return err
				}
			}
			m.dataShards, m.parityShards = k, p
		} else if err := txn.Set(keyPrefix(kindData, id), compressed); err != nil {
			return err
		}
	}

	for name, val := range obj.attrs {
		if err := txn.Set(keyWithSuffix(kindAttr, id, []byte(name)), val); err != nil {
			return err
		}
	}
	for key, val := range obj.omap {
		if err := txn.Set(keyWithSuffix(kindOmap, id, []byte(key)), val); err != nil {
			return err
		}
	}
	return txn.Set(keyPrefix(kindMeta, id), m.marshal())
}
