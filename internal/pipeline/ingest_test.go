package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/adapters/docparse"
	"github.com/councilkb/councilkb/internal/domain"
)

func TestOriginalKey(t *testing.T) {
	assert.Equal(t, "originals/abc123.pdf", originalKey("abc123", "회의록.pdf"))
	assert.Equal(t, "originals/abc123", originalKey("abc123", "확장자없음"))
}

func TestGuessDocType(t *testing.T) {
	tests := []struct {
		name string
		mime string
		want domain.DocType
	}{
		{"회의록.HWP", "", domain.DocTypeHWP},
		{"결과지.pdf", "", domain.DocTypePDF},
		{"예산.xlsx", "", domain.DocTypeSpreadsheet},
		{"발표.pptx", "", domain.DocTypeSlides},
		{"공문.docx", "", domain.DocTypeWord},
		{"메모.md", "", domain.DocTypeText},
		{"사진", "image/png", domain.DocTypeImage},
		{"export", "application/vnd.google-apps.spreadsheet", domain.DocTypeSpreadsheet},
		{"export", "application/pdf", domain.DocTypePDF},
		{"자료", "application/zip", domain.DocTypeOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, guessDocType(tt.name, tt.mime), "name %q mime %q", tt.name, tt.mime)
	}
}

// stubBlobs fails the first N puts, then succeeds.
type stubBlobs struct {
	calls    int
	failures int
	err      error

	lastKey  string
	lastBody string
}

func (s *stubBlobs) Put(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", s.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.lastKey = key
	s.lastBody = string(b)
	return "https://blob.local/" + key, nil
}

func (s *stubBlobs) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, nil
}

func (s *stubBlobs) Delete(context.Context, string) error {
	return nil
}

func (s *stubBlobs) List(context.Context, string) ([]string, error) {
	return nil, nil
}

func writeTempOriginal(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "안건지.pdf")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUploadOriginalRetriesAndRewinds(t *testing.T) {
	blobs := &stubBlobs{failures: 1, err: errors.New("connection reset")}
	p := &Pipeline{blobs: blobs}

	url, err := p.uploadOriginal(context.Background(), "abc123", "안건지.pdf",
		writeTempOriginal(t, "원본 내용"))
	require.NoError(t, err)
	require.NotNil(t, url)

	assert.Equal(t, 2, blobs.calls)
	assert.Equal(t, "originals/abc123.pdf", blobs.lastKey)
	// The second attempt must see the full file, not a drained reader.
	assert.Equal(t, "원본 내용", blobs.lastBody)
	assert.Equal(t, "https://blob.local/originals/abc123.pdf", *url)
}

func TestUploadOriginalStopsOnPermanentError(t *testing.T) {
	blobs := &stubBlobs{failures: 10, err: domain.Permanent(errors.New("access denied"))}
	p := &Pipeline{blobs: blobs}

	_, err := p.uploadOriginal(context.Background(), "abc123", "안건지.pdf",
		writeTempOriginal(t, "원본"))
	require.Error(t, err)
	assert.Equal(t, 1, blobs.calls)
}

func TestUploadOriginalSkipsWithoutSource(t *testing.T) {
	p := &Pipeline{blobs: &stubBlobs{}}

	url, err := p.uploadOriginal(context.Background(), "abc123", "안건지.pdf", "")
	require.NoError(t, err)
	assert.Nil(t, url)
}

func TestLooksTabular(t *testing.T) {
	wide := docparse.Asset{BBox: [4]float64{0, 0, 600, 100}}
	assert.True(t, looksTabular(wide))

	square := docparse.Asset{BBox: [4]float64{0, 0, 200, 200}}
	assert.False(t, looksTabular(square))

	degenerate := docparse.Asset{BBox: [4]float64{0, 0, 100, 0}}
	assert.False(t, looksTabular(degenerate))
}
