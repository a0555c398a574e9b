package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// bloomFalsePositiveRate bounds the SST bloom filter's false-positive rate.
// A false positive only costs an extra full scan that would have happened
// anyway without the filter; a false negative would be a correctness bug,
// which this library's filter never produces.
const bloomFalsePositiveRate = 0.01

// SSTSegment is an immutable, sorted, on-disk key/value file: one
// "key\tvalue\n" line per entry, lines ascending by key. MinKey, MaxKey,
// and the bloom filter are populated lazily, on the segment's first
// Search, rather than eagerly at Open — scanning every segment on startup
// would be wasted work for segments nothing ever queries.
type SSTSegment struct {
	path string

	loaded bool
	minKey string
	maxKey string
	empty  bool
	filter *bloom.BloomFilter

	log *logrus.Entry
}

// NewSSTSegment returns a descriptor for an existing (or not-yet-written)
// segment file, with metadata unset. Metadata is populated lazily by the
// first Search call.
func NewSSTSegment(path string) *SSTSegment {
	return &SSTSegment{
		path: path,
		log:  logrus.WithField("component", "sst").WithField("path", filepath.Base(path)),
	}
}

// Path returns the segment's filesystem path.
func (s *SSTSegment) Path() string { return s.path }

// WriteSSTFromMemTable writes entries (already sorted ascending by key) out
// as a new immutable segment at path, returning a descriptor with MinKey,
// MaxKey, and the bloom filter already populated from the entries just
// written. entries MUST be non-empty; an empty snapshot is the caller's
// responsibility not to flush.
//
// To avoid leaving a half-written segment behind if the process dies
// mid-flush, the content is staged at a sibling "<path>.tmp-<uuid>" file,
// fsynced, and only then renamed into place — a crash before the rename
// leaves the orphaned staging file invisible to Open's directory scan
// (which only matches "sst_<digits>.txt") and leaves the previous state of
// `path`, if any, untouched.
func WriteSSTFromMemTable(path string, entries []kvEntry) (*SSTSegment, error) {
	if len(entries) == 0 {
		return nil, errors.New("engine: refusing to write an empty sst segment")
	}

	stagingPath := path + ".tmp-" + uuid.NewString()
	file, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, wrapIO(err, "create sst staging file")
	}

	writer := bufio.NewWriter(file)
	filter := bloom.NewWithEstimates(uint(len(entries)), bloomFalsePositiveRate)

	for _, e := range entries {
		if _, err := writer.WriteString(e.key); err != nil {
			file.Close()
			return nil, wrapIO(err, "write sst entry")
		}
		if err := writer.WriteByte('\t'); err != nil {
			file.Close()
			return nil, wrapIO(err, "write sst entry")
		}
		if _, err := writer.WriteString(e.value); err != nil {
			file.Close()
			return nil, wrapIO(err, "write sst entry")
		}
		if err := writer.WriteByte('\n'); err != nil {
			file.Close()
			return nil, wrapIO(err, "write sst entry")
		}
		filter.AddString(e.key)
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		return nil, wrapIO(err, "flush sst staging file")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, wrapIO(err, "fsync sst staging file")
	}
	if err := file.Close(); err != nil {
		return nil, wrapIO(err, "close sst staging file")
	}

	if err := os.Rename(stagingPath, path); err != nil {
		return nil, wrapIO(err, "publish sst segment")
	}

	seg := &SSTSegment{
		path:   path,
		log:    logrus.WithField("component", "sst").WithField("path", filepath.Base(path)),
		loaded: true,
		minKey: entries[0].key,
		maxKey: entries[len(entries)-1].key,
		filter: filter,
	}
	seg.log.WithField("entries", len(entries)).Debug("sst segment written")
	return seg, nil
}

// Search looks up key in the segment. It returns (value, true, nil) if the
// key is present (value may be the tombstone sentinel), (_, false, nil) if
// the key is definitely absent, and a non-nil error only on I/O failure.
func (s *SSTSegment) Search(key string) (string, bool, error) {
	if err := s.ensureMetadataLoaded(); err != nil {
		return "", false, err
	}

	if s.empty {
		return "", false, nil
	}

	if key < s.minKey || key > s.maxKey {
		return "", false, nil
	}

	if s.filter != nil && !s.filter.TestString(key) {
		return "", false, nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, wrapIO(err, "open sst segment")
	}
	defer file.Close()

	buf := scanBufferPool.get()
	defer scanBufferPool.put(buf)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(*buf, len(*buf))

	for scanner.Scan() {
		k, v, ok := splitSSTLine(scanner.Text())
		if !ok {
			continue
		}
		if k == key {
			return v, true, nil
		}
		if k > key {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, wrapIO(err, "scan sst segment")
	}

	return "", false, nil
}

// ensureMetadataLoaded performs the lazy single-pass scan that populates
// MinKey, MaxKey, and the bloom filter the first time this segment is
// searched.
func (s *SSTSegment) ensureMetadataLoaded() error {
	if s.loaded {
		return nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			s.empty = true
			return nil
		}
		return wrapIO(err, "open sst segment for metadata scan")
	}
	defer file.Close()

	buf := scanBufferPool.get()
	defer scanBufferPool.put(buf)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(*buf, len(*buf))

	var first, last string
	var count int
	var keys []string
	for scanner.Scan() {
		k, _, ok := splitSSTLine(scanner.Text())
		if !ok {
			continue
		}
		if count == 0 {
			first = k
		}
		last = k
		keys = append(keys, k)
		count++
	}
	if err := scanner.Err(); err != nil {
		return wrapIO(err, "scan sst segment for metadata")
	}

	s.loaded = true
	if count == 0 {
		s.empty = true
		return nil
	}

	s.minKey = first
	s.maxKey = last
	filter := bloom.NewWithEstimates(uint(count), bloomFalsePositiveRate)
	for _, k := range keys {
		filter.AddString(k)
	}
	s.filter = filter
	return nil
}

// splitSSTLine parses a "key\tvalue" line. Lines with fewer than two
// TAB-separated fields are malformed and skipped by the caller.
func splitSSTLine(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '\t')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

// sstFileName returns the zero-padded filename for the segment at index i,
// e.g. sstFileName(3) == "sst_0003.txt".
func sstFileName(index int) string {
	return fmt.Sprintf("sst_%04d.txt", index)
}
