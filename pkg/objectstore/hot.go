// Package objectstore implements the two-tier content-addressed object
// store: a bbolt-backed hot tier for newly written objects, and an
// append-only zstd-compressed pack (warm tier) produced by compaction.
package objectstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/svnbridge/pkg/blockingpool"
	"github.com/cuemby/svnbridge/pkg/metrics"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	bolt "go.etcd.io/bbolt"
)

func kindLabel(kind objectmodel.Kind) string {
	switch kind {
	case objectmodel.KindBlob:
		return "blob"
	case objectmodel.KindTree:
		return "tree"
	case objectmodel.KindCommit:
		return "commit"
	default:
		return "unknown"
	}
}

var bucketObjects = []byte("objects")

// Store is the hot+warm object store keyed by ObjectID.
type Store struct {
	db   *bolt.DB
	pool *blockingpool.Pool
	warm *warmTier
}

// Open opens (creating if absent) the bbolt hot tier at dataDir/objects.db
// and loads the warm-tier pack index from dataDir/packs.
func Open(dataDir string, pool *blockingpool.Pool) (*Store, error) {
	dbPath := filepath.Join(dataDir, "objects.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open hot tier: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("objectstore: create bucket: %w", err)
	}

	warm, err := openWarmTier(filepath.Join(dataDir, "packs"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("objectstore: open warm tier: %w", err)
	}

	return &Store{db: db, pool: pool, warm: warm}, nil
}

// Close releases the hot-tier database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PackBytes returns the total compressed size of every object indexed in
// the warm tier, polled by the metrics collector.
func (s *Store) PackBytes() int64 {
	return s.warm.totalBytes()
}

// DB exposes the underlying bbolt handle so collaborators that share the
// same on-disk file (the revision map, metadata, and property buckets all
// live in objects.db alongside the object bucket) can open their own
// buckets against it instead of opening the file a second time, which
// bbolt's file lock would refuse.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// Put stores raw canonical object bytes keyed by their SHA-256 id, returning
// the id. Put is idempotent: identical bytes always resolve to the same id
// and are written at most once.
func (s *Store) Put(ctx context.Context, kind objectmodel.Kind, data []byte) (objectmodel.ObjectID, error) {
	id := objectmodel.ObjectID(sha256Sum(data))

	if ok, err := s.Contains(id); err != nil {
		return id, err
	} else if ok {
		return id, nil
	}

	err := s.pool.Submit(ctx, func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketObjects)
			if b.Get(id[:]) != nil {
				return nil // raced with a concurrent identical Put; dedup holds
			}
			return b.Put(id[:], data)
		})
	})
	if err != nil {
		return id, fmt.Errorf("objectstore: put %s: %w", id, err)
	}
	metrics.ObjectsPutTotal.WithLabelValues(kindLabel(kind)).Inc()
	return id, nil
}

// Get retrieves an object's raw bytes by id, querying the hot tier first
// and falling back to the warm tier. Returns (nil, false, nil) if absent
// from both.
func (s *Store) Get(id objectmodel.ObjectID) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketObjects).Get(id[:]); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("objectstore: get %s: %w", id, err)
	}
	if data != nil {
		metrics.ObjectsGetTotal.WithLabelValues("hot", "hit").Inc()
		return data, true, nil
	}

	data, ok, err := s.warm.get(id)
	if err != nil {
		metrics.ObjectsGetTotal.WithLabelValues("warm", "error").Inc()
		return nil, false, fmt.Errorf("objectstore: get %s from warm tier: %w", id, err)
	}
	if ok {
		metrics.ObjectsGetTotal.WithLabelValues("warm", "hit").Inc()
	} else {
		metrics.ObjectsGetTotal.WithLabelValues("warm", "miss").Inc()
	}
	return data, ok, nil
}

// Contains reports whether id is present in either tier without reading its
// full payload from the warm tier.
func (s *Store) Contains(id objectmodel.ObjectID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketObjects).Get(id[:]) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("objectstore: contains %s: %w", id, err)
	}
	if found {
		return true, nil
	}
	return s.warm.contains(id), nil
}

// Delete removes id from the hot tier only; warm-tier packs are immutable
// until a future repack, which is out of scope here. Reports whether the
// key was present.
func (s *Store) Delete(id objectmodel.ObjectID) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		existed = b.Get(id[:]) != nil
		if existed {
			return b.Delete(id[:])
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("objectstore: delete %s: %w", id, err)
	}
	return existed, nil
}

// Persist forces an fsync of the hot-tier database (db.Sync), run through
// the blocking pool. bbolt already fsyncs every Update transaction, so this
// adds no durability beyond what Put provides; it gives callers an explicit
// persist operation routed through the pool.
func (s *Store) Persist(ctx context.Context) error {
	return s.pool.Submit(ctx, func() error {
		return s.db.Sync()
	})
}

// Compact moves every hot-tier object into a new warm-tier pack file and
// removes them from the hot tier. It runs only when called: no background
// task and no svnadmin command invokes it.
func (s *Store) Compact(ctx context.Context) (objectCount int, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CompactionDuration)

	type hotObject struct {
		id   objectmodel.ObjectID
		data []byte
	}
	var objs []hotObject

	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			var id objectmodel.ObjectID
			copy(id[:], k)
			objs = append(objs, hotObject{id: id, data: append([]byte(nil), v...)})
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("objectstore: compact: scan hot tier: %w", err)
	}
	if len(objs) == 0 {
		return 0, nil
	}

	records := make([]packRecord, 0, len(objs))
	for _, o := range objs {
		records = append(records, packRecord{id: o.id, data: o.data})
	}

	err = s.pool.Submit(ctx, func() error {
		return s.warm.writePack(records)
	})
	if err != nil {
		return 0, fmt.Errorf("objectstore: compact: write pack: %w", err)
	}

	err = s.pool.Submit(ctx, func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketObjects)
			for _, o := range objs {
				if err := b.Delete(o.id[:]); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("objectstore: compact: prune hot tier: %w", err)
	}

	return len(objs), nil
}
