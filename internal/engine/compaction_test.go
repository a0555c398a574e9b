package engine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngine_CompactAllFailsFatallyWhenSegmentFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	eng := openTestEngine(t, cfg)

	require.NoError(t, eng.Put("a", "1"))
	require.NoError(t, eng.Put("b", "2")) // flush #1
	require.Len(t, eng.segments, 1)

	require.NoError(t, os.Remove(eng.segments[0].Path()))

	err := eng.CompactAll()
	require.ErrorIs(t, err, ErrCorruption)
}
