package objectstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// packVersion is the pack format version written into every header.
const packVersion = uint32(1)

// packRecord is one object awaiting compaction into a pack file.
type packRecord struct {
	id   objectmodel.ObjectID
	data []byte
}

type packLocation struct {
	packFile      string
	offset        int64
	compressedLen uint32
	originalLen   uint32
}

// warmTier holds an in-memory offset index over every pack file under dir,
// loaded at open. Packs are immutable once written; only compaction
// produces new ones.
type warmTier struct {
	dir string

	mu    sync.RWMutex
	index map[objectmodel.ObjectID]packLocation
}

func openWarmTier(dir string) (*warmTier, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create pack dir: %w", err)
	}
	w := &warmTier{dir: dir, index: make(map[objectmodel.ObjectID]packLocation)}
	if err := w.loadIndex(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *warmTier) loadIndex() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read pack dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pack" {
			continue
		}
		if err := w.indexPack(filepath.Join(w.dir, e.Name())); err != nil {
			return fmt.Errorf("index pack %s: %w", e.Name(), err)
		}
	}
	return nil
}

// indexPack scans a single pack file's header and records, tolerating a
// truncated tail: any record whose declared length runs past the file's
// actual size is treated as absent, not corrupt, per the object store's
// failure model.
func (w *warmTier) indexPack(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	r := bufio.NewReader(f)
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil // empty or truncated header: nothing usable
		}
		return err
	}
	count := binary.BigEndian.Uint32(header[4:8])

	offset := int64(len(header))
	for i := uint32(0); i < count; i++ {
		var rec [1 + 4 + 32 + 4]byte
		if offset+int64(len(rec)) > size {
			break // truncated tail: stop indexing, remaining records are absent
		}
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			break
		}
		originalLen := binary.BigEndian.Uint32(rec[1:5])
		var id objectmodel.ObjectID
		copy(id[:], rec[5:37])
		compressedLen := binary.BigEndian.Uint32(rec[37:41])

		bodyOffset := offset + int64(len(rec))
		if bodyOffset+int64(compressedLen) > size {
			break
		}

		w.mu.Lock()
		w.index[id] = packLocation{
			packFile:      path,
			offset:        bodyOffset,
			compressedLen: compressedLen,
			originalLen:   originalLen,
		}
		w.mu.Unlock()

		if _, err := r.Discard(int(compressedLen)); err != nil {
			break
		}
		offset = bodyOffset + int64(compressedLen)
	}
	return nil
}

// totalBytes sums the compressed size of every indexed object across all
// pack files, used by the metrics collector to report warm-tier size.
func (w *warmTier) totalBytes() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var total int64
	for _, loc := range w.index {
		total += int64(loc.compressedLen)
	}
	return total
}

func (w *warmTier) contains(id objectmodel.ObjectID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.index[id]
	return ok
}

func (w *warmTier) get(id objectmodel.ObjectID) ([]byte, bool, error) {
	w.mu.RLock()
	loc, ok := w.index[id]
	w.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	f, err := os.Open(loc.packFile)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	compressed := make([]byte, loc.compressedLen)
	if _, err := f.ReadAt(compressed, loc.offset); err != nil {
		return nil, false, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, false, err
	}
	defer dec.Close()

	data, err := dec.DecodeAll(compressed, make([]byte, 0, loc.originalLen))
	if err != nil {
		return nil, false, fmt.Errorf("decompress object %s: %w", id, err)
	}
	if sha256.Sum256(data) != [32]byte(id) {
		return nil, false, fmt.Errorf("object %s failed hash check after decompression", id)
	}
	return data, true, nil
}

// writePack writes a new immutable pack containing records, then indexes
// it in place so subsequent Get calls see it immediately.
func (w *warmTier) writePack(records []packRecord) error {
	name := fmt.Sprintf("pack-%s.pack", uuid.New().String())
	path := filepath.Join(w.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create pack file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], packVersion)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(records)))
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("new zstd encoder: %w", err)
	}
	defer enc.Close()

	offset := int64(len(header))
	locations := make(map[objectmodel.ObjectID]packLocation, len(records))

	for _, rec := range records {
		compressed := enc.EncodeAll(rec.data, nil)

		var recHeader [1 + 4 + 32 + 4]byte
		recHeader[0] = byte(objectKindOf(rec.data))
		binary.BigEndian.PutUint32(recHeader[1:5], uint32(len(rec.data)))
		copy(recHeader[5:37], rec.id[:])
		binary.BigEndian.PutUint32(recHeader[37:41], uint32(len(compressed)))

		if _, err := bw.Write(recHeader[:]); err != nil {
			return err
		}
		if _, err := bw.Write(compressed); err != nil {
			return err
		}

		bodyOffset := offset + int64(len(recHeader))
		locations[rec.id] = packLocation{
			packFile:      path,
			offset:        bodyOffset,
			compressedLen: uint32(len(compressed)),
			originalLen:   uint32(len(rec.data)),
		}
		offset = bodyOffset + int64(len(compressed))
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync pack file: %w", err)
	}

	w.mu.Lock()
	for id, loc := range locations {
		w.index[id] = loc
	}
	w.mu.Unlock()

	return nil
}

func objectKindOf(data []byte) objectmodel.Kind {
	if len(data) == 0 {
		return 0
	}
	return objectmodel.Kind(data[0])
}

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
