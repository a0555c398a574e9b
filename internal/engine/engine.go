package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// timeZero is the zero time.Time, used to reset lastSyncTime back to its
// "never synced" sentinel after a compaction checkpoint.
var timeZero time.Time

// sstFilePattern matches the on-disk naming scheme sst_<digits>.txt, used
// both to recognize existing segments on Open and to ignore anything else
// that might be sitting in DataDir (including an orphaned ".tmp-<uuid>"
// staging file left behind by a crash mid-flush).
var sstFilePattern = regexp.MustCompile(`^sst_\d+\.txt$`)

// Engine is the single-process, single-threaded LSM key-value store. It
// owns the MemTable, the WAL, the ordered SST segment list, and the sync
// policy's state. All operations run synchronously on the calling
// goroutine; there is no background flush, sync, or compaction worker.
type Engine struct {
	config Config

	isOpen   bool
	memtable *MemTable
	segments []*SSTSegment // oldest first
	wal      *WAL

	syncPolicy *syncPolicy

	log *logrus.Entry
}

// NewEngine constructs an Engine bound to config. The engine starts closed;
// call Open before issuing any data operation.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:     config,
		syncPolicy: newSyncPolicy(config),
		log:        logrus.WithField("component", "engine").WithField("data_dir", config.DataDir),
	}
}

// Open is idempotent for an already-open engine. Otherwise it: marks the
// engine open, initializes an empty MemTable, enumerates existing SST
// segments from DataDir, opens (creating if needed) the WAL, and replays
// the WAL into the MemTable to recover any writes that never made it into
// an SST.
func (e *Engine) Open() error {
	if e.isOpen {
		return nil
	}

	e.isOpen = true
	e.memtable = NewMemTable()

	segments, err := loadExistingSegments(e.config.DataDir)
	if err != nil {
		e.isOpen = false
		return err
	}
	e.segments = segments

	if err := os.MkdirAll(e.config.DataDir, 0o755); err != nil {
		e.isOpen = false
		return wrapIO(err, "create data directory")
	}

	e.wal = NewWAL(e.config.DataDir)
	if err := e.wal.Open(); err != nil {
		e.isOpen = false
		return err
	}

	if err := e.wal.ReplayInto(e.memtable); err != nil {
		e.isOpen = false
		return err
	}

	e.log.WithField("sst_count", len(e.segments)).Info("engine opened")
	return nil
}

// loadExistingSegments enumerates sst_<digits>.txt files in dataDir, sorted
// ascending by name (which is also creation order, since names are
// zero-padded), and returns a segment descriptor for each with metadata
// unset — min/max/bloom are populated lazily on first Search.
func loadExistingSegments(dataDir string) ([]*SSTSegment, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrapIO(err, "list data directory")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if sstFilePattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	segments := make([]*SSTSegment, 0, len(names))
	for _, name := range names {
		segments = append(segments, NewSSTSegment(filepath.Join(dataDir, name)))
	}
	return segments, nil
}

// Close is a no-op if the engine is already closed. Otherwise it flushes
// any pending MemTable writes to a new SST, syncs and closes the WAL, and
// marks the engine closed. Handles are released on every exit path.
//
// The final sync goes through syncPolicy.syncNow rather than WAL.Sync
// directly, so it counts toward FsyncCount like any other sync — otherwise
// a BATCH/ADAPTIVE engine closed before reaching its threshold would report
// zero fsyncs despite having just durably synced every pending write.
func (e *Engine) Close() error {
	if !e.isOpen {
		return nil
	}

	flushErr := e.flushToSST()

	var syncErr, closeErr error
	if e.wal != nil {
		syncErr = e.syncPolicy.syncNow(e.wal)
		closeErr = e.wal.Close()
	}

	e.isOpen = false
	e.log.Info("engine closed")

	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Put writes key=value: it appends a PUT record to the WAL, applies the
// sync policy's post-append decision, updates the MemTable, and flushes if
// the MemTable has reached its configured entry limit.
func (e *Engine) Put(key, value string) error {
	if !e.isOpen {
		return errors.WithStack(ErrNotOpen)
	}

	if err := e.wal.AppendPut(key, value); err != nil {
		return err
	}
	if err := e.syncPolicy.afterWALAppend(e.wal); err != nil {
		return err
	}

	e.memtable.Put(key, value)

	if e.memtable.Len() >= e.config.MemTableLimit {
		return e.flushToSST()
	}
	return nil
}

// Delete marks key as deleted: it appends a DEL record to the WAL, applies
// the sync policy, and writes a tombstone into the MemTable (the entry is
// never physically removed here — it must persist long enough to shadow
// any older value for the same key in an SST).
func (e *Engine) Delete(key string) error {
	if !e.isOpen {
		return errors.WithStack(ErrNotOpen)
	}

	if err := e.wal.AppendDelete(key); err != nil {
		return err
	}
	if err := e.syncPolicy.afterWALAppend(e.wal); err != nil {
		return err
	}

	e.memtable.Delete(key)

	if e.memtable.Len() >= e.config.MemTableLimit {
		return e.flushToSST()
	}
	return nil
}

// Get resolves key's effective value: the MemTable entry if present
// (tombstone ⇒ absent), otherwise the newest SST segment that mentions the
// key (tombstone ⇒ absent; an absent answer from one segment never masks a
// value in an older one — only a tombstone does).
func (e *Engine) Get(key string) (string, bool, error) {
	if !e.isOpen {
		return "", false, errors.WithStack(ErrNotOpen)
	}

	if v, ok := e.memtable.Get(key); ok {
		if v == TOMBSTONE {
			return "", false, nil
		}
		return v, true, nil
	}

	for i := len(e.segments) - 1; i >= 0; i-- {
		v, found, err := e.segments[i].Search(key)
		if err != nil {
			return "", false, err
		}
		if !found {
			continue
		}
		if v == TOMBSTONE {
			return "", false, nil
		}
		return v, true, nil
	}

	return "", false, nil
}

// FsyncCount returns the number of WAL syncs made through the sync policy
// over this engine instance's lifetime, including the final sync in Close.
// The flush-and-fsync that WAL.Close performs itself (on Close, and during
// compaction's checkpoint) is not counted.
func (e *Engine) FsyncCount() int64 {
	return e.syncPolicy.fsyncCount
}

// CompactAll runs a full, synchronous compaction: see compaction.go for the
// algorithm. It is a stop-the-world operation with no background scheduling
// — the caller decides when to invoke it.
func (e *Engine) CompactAll() error {
	if !e.isOpen {
		return errors.WithStack(ErrNotOpen)
	}
	return e.compactAll()
}

// flushToSST writes the current MemTable out as a new immutable segment, if
// it is non-empty, appends it to the segment list, and replaces the
// MemTable with a fresh empty one.
func (e *Engine) flushToSST() error {
	if e.memtable.Len() == 0 {
		return nil
	}

	entries := e.memtable.SortedEntries()
	path := e.sstPath(len(e.segments))

	seg, err := WriteSSTFromMemTable(path, entries)
	if err != nil {
		return err
	}

	e.segments = append(e.segments, seg)
	e.memtable = NewMemTable()

	e.log.WithField("path", path).WithField("entries", len(entries)).Debug("flushed memtable to sst")
	return nil
}

// sstPath builds the path for the segment at index within this engine's
// DataDir.
func (e *Engine) sstPath(index int) string {
	return filepath.Join(e.config.DataDir, sstFileName(index))
}
