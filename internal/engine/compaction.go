package engine

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

// compactAll performs a full, stop-the-world compaction: it flushes any
// pending MemTable writes, merges every existing SST newest-to-oldest
// (dropping tombstones physically), replaces the whole SST list with at
// most one new segment, and checkpoints the WAL. There is no background
// compactor goroutine or scheduling — this runs synchronously on whatever
// goroutine calls Engine.CompactAll.
func (e *Engine) compactAll() error {
	if err := e.flushToSST(); err != nil {
		return err
	}

	if len(e.segments) == 0 {
		return nil
	}

	merged, deleted, err := e.mergeSegmentsNewestFirst()
	if err != nil {
		return err
	}

	for _, seg := range e.segments {
		if err := os.Remove(seg.Path()); err != nil && !os.IsNotExist(err) {
			return wrapIO(err, "remove old sst segment during compaction")
		}
	}
	e.segments = e.segments[:0]

	e.log.WithField("kept", len(merged)).WithField("dropped_tombstones", len(deleted)).
		Info("compaction merged sst segments")

	if len(merged) > 0 {
		entries := make([]kvEntry, 0, len(merged))
		for k, v := range merged {
			entries = append(entries, kvEntry{key: k, value: v})
		}
		sortEntries(entries)

		path := e.sstPath(0)
		seg, err := WriteSSTFromMemTable(path, entries)
		if err != nil {
			return err
		}
		e.segments = append(e.segments, seg)
	}

	if err := e.wal.TruncateAndReopen(); err != nil {
		return err
	}
	e.syncPolicy.pendingOps = 0
	e.syncPolicy.lastSyncTime = timeZero

	return nil
}

// mergeSegmentsNewestFirst walks e.segments from newest to oldest, keeping
// the first (i.e. newest) value seen for each key and classifying it as
// either a live value or a tombstone. A key already resolved by a newer
// segment — whether kept or deleted — is never reconsidered from an older
// one.
func (e *Engine) mergeSegmentsNewestFirst() (merged map[string]string, deleted map[string]bool, err error) {
	merged = make(map[string]string)
	deleted = make(map[string]bool)

	for i := len(e.segments) - 1; i >= 0; i-- {
		seg := e.segments[i]
		if err := scanSegmentEntries(seg.Path(), func(key, value string) {
			if _, ok := merged[key]; ok {
				return
			}
			if deleted[key] {
				return
			}
			if value == TOMBSTONE {
				deleted[key] = true
			} else {
				merged[key] = value
			}
		}); err != nil {
			return nil, nil, err
		}
	}

	return merged, deleted, nil
}

// scanSegmentEntries reads every well-formed "key\tvalue" line from the
// file at path and invokes fn for each. path is one of e.segments, so it
// must exist — the engine is the only writer of the data directory and
// never removes a segment except as part of this same compaction. A
// missing file here means the on-disk state no longer matches what the
// engine believes it owns, which is fatal to the current session. A
// well-formed line whose key is not strictly greater than the previous
// line's key is likewise reported as ErrCorruption.
func scanSegmentEntries(path string, fn func(key, value string)) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WithStack(ErrCorruption)
		}
		return wrapIO(err, "open sst segment for compaction")
	}
	defer file.Close()

	buf := scanBufferPool.get()
	defer scanBufferPool.put(buf)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(*buf, len(*buf))

	var prev string
	seen := false
	for scanner.Scan() {
		k, v, ok := splitSSTLine(scanner.Text())
		if !ok {
			continue
		}
		if seen && k <= prev {
			return errors.WithStack(ErrCorruption)
		}
		prev, seen = k, true
		fn(k, v)
	}
	if err := scanner.Err(); err != nil {
		return wrapIO(err, "scan sst segment for compaction")
	}
	return nil
}
