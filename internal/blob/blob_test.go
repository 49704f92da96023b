package blob

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchRoundTrip(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	p, err := s.WriteFile("회의록.pdf", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.FileExists(t, p)

	r, err := s.Open("회의록.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "bytes", string(data))
}

func TestScratchRunsAreIsolated(t *testing.T) {
	root := t.TempDir()

	a, err := NewScratch(root)
	require.NoError(t, err)
	b, err := NewScratch(root)
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir(), b.Dir())

	_, err = a.WriteFile("f.txt", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = b.Open("f.txt")
	assert.Error(t, err, "runs must not see each other's files")
}

func TestScratchPurge(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	p, err := s.WriteFile("f.txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Purge())
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.NoDirExists(t, s.Dir())
}

func TestScratchLeavesNoPartialFiles(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	_, err = s.WriteFile("f.txt", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "failed writes must not leave temp files")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
