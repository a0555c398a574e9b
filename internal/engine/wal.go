package engine

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// walFileName is the fixed name of the write-ahead log within DataDir.
const walFileName = "wal.log"

// WAL is an append-only, newline-delimited durable log. Every successful
// Put/Delete is recorded here before it is applied to the MemTable, so that
// a crash before the next sync can still be replayed on the next Open.
//
// Record grammar:
//
//	record := "PUT" TAB key TAB value LF
//	        | "DEL" TAB key LF
type WAL struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	log    *logrus.Entry
}

// NewWAL constructs a WAL bound to <dataDir>/wal.log. The file is not opened
// until Open is called.
func NewWAL(dataDir string) *WAL {
	return &WAL{
		path: filepath.Join(dataDir, walFileName),
		log:  logrus.WithField("component", "wal"),
	}
}

// Open ensures the containing directory exists, then opens the log file in
// append/read mode, positioned at the end. Idempotent.
func (w *WAL) Open() error {
	if w.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return wrapIO(err, "create wal directory")
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return wrapIO(err, "open wal file")
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// AppendPut writes a PUT record. No durability promise; call Sync (or let
// the sync policy do so) to force it to stable storage.
func (w *WAL) AppendPut(key, value string) error {
	if w.file == nil {
		return errors.WithStack(ErrNotOpen)
	}
	if _, err := w.writer.WriteString("PUT\t"); err != nil {
		return wrapIO(err, "append put")
	}
	if _, err := w.writer.WriteString(key); err != nil {
		return wrapIO(err, "append put")
	}
	if err := w.writer.WriteByte('\t'); err != nil {
		return wrapIO(err, "append put")
	}
	if _, err := w.writer.WriteString(value); err != nil {
		return wrapIO(err, "append put")
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return wrapIO(err, "append put")
	}
	return nil
}

// AppendDelete writes a DEL record.
func (w *WAL) AppendDelete(key string) error {
	if w.file == nil {
		return errors.WithStack(ErrNotOpen)
	}
	if _, err := w.writer.WriteString("DEL\t"); err != nil {
		return wrapIO(err, "append delete")
	}
	if _, err := w.writer.WriteString(key); err != nil {
		return wrapIO(err, "append delete")
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return wrapIO(err, "append delete")
	}
	return nil
}

// Sync flushes the buffered writer and forces an OS-level fsync of the
// underlying file. Errors are never swallowed: a failed sync invalidates
// the engine's durability contract.
func (w *WAL) Sync() error {
	if w.file == nil {
		return errors.WithStack(ErrNotOpen)
	}

	start := time.Now()
	if err := w.writer.Flush(); err != nil {
		return wrapIO(err, "flush wal buffer")
	}
	if err := w.file.Sync(); err != nil {
		return wrapIO(err, "fsync wal")
	}
	w.log.WithField("elapsed", time.Since(start)).Debug("wal synced")
	return nil
}

// Close flushes, syncs, and releases the file handle. The handle is
// released even when the flush or sync fails. Idempotent.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}

	flushErr := w.writer.Flush()
	var syncErr error
	if flushErr == nil {
		syncErr = w.file.Sync()
	}
	closeErr := w.file.Close()

	w.file = nil
	w.writer = nil

	if flushErr != nil {
		return wrapIO(flushErr, "flush wal buffer on close")
	}
	if syncErr != nil {
		return wrapIO(syncErr, "fsync wal on close")
	}
	if closeErr != nil {
		return wrapIO(closeErr, "close wal file")
	}
	return nil
}

// ReplayInto reopens the log read-only from offset 0 and applies every
// complete record to memtable in order: PUT assigns the value, DEL assigns
// the tombstone sentinel. A missing file is a no-op, not an error. A
// partial trailing line (no terminating LF) is dropped silently — this is
// the engine's recovery policy for a crash mid-write.
func (w *WAL) ReplayInto(memtable *MemTable) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapIO(err, "read wal for replay")
	}

	lines := bytes.Split(data, []byte{'\n'})
	// Splitting on LF always yields one trailing element after the final
	// terminator (empty string for a well-formed file, or a torn partial
	// record for a crash mid-write); either way it must not be replayed.
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	skipped := 0
	for _, raw := range lines {
		line := string(raw)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		switch {
		case len(parts) == 3 && parts[0] == "PUT":
			memtable.Put(parts[1], parts[2])
		case len(parts) == 2 && parts[0] == "DEL":
			memtable.Delete(parts[1])
		default:
			skipped++
		}
	}

	if skipped > 0 {
		w.log.WithField("skipped", skipped).Warn("ignored malformed wal lines during replay")
	}
	return nil
}

// TruncateAndReopen closes the current handle, truncates the log to zero
// bytes (creating it if it is somehow absent), and reopens it ready for
// appends. Used exclusively by compaction's checkpoint step: once the full
// engine state has been materialized into SSTs, the WAL can start clean.
func (w *WAL) TruncateAndReopen() error {
	if w.file != nil {
		if err := w.Close(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return wrapIO(err, "create wal directory during checkpoint")
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return wrapIO(err, "truncate wal")
	}
	if err := file.Close(); err != nil {
		return wrapIO(err, "close truncated wal")
	}

	return w.Open()
}

// Size returns the current size, in bytes, of the WAL file on disk.
func (w *WAL) Size() (int64, error) {
	stat, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, wrapIO(err, "stat wal")
	}
	return stat.Size(), nil
}
