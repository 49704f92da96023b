package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/config"
)

func TestAccepted(t *testing.T) {
	c := NewClient(config.DriveSettings{
		IncludePatterns: []string{"*.pdf", "*.hwp"},
		ExcludePatterns: []string{"~*", "*.tmp.pdf"},
	})

	assert.True(t, c.accepted("회의록.pdf"))
	assert.True(t, c.accepted("안건지.hwp"))
	assert.False(t, c.accepted("사진.png"), "not in include list")
	assert.False(t, c.accepted("~회의록.pdf"), "exclude wins")
	assert.False(t, c.accepted("draft.tmp.pdf"))
}

func TestAcceptedWithoutIncludeList(t *testing.T) {
	c := NewClient(config.DriveSettings{ExcludePatterns: []string{"*.bak"}})

	assert.True(t, c.accepted("아무파일.xlsx"))
	assert.False(t, c.accepted("백업.bak"))
}

func TestExportFor(t *testing.T) {
	c := NewClient(config.DriveSettings{
		ExportFormats: map[string]string{
			"application/vnd.google-apps.document":    "docx",
			"application/vnd.google-apps.spreadsheet": "xlsx",
		},
	})

	ext, ok := c.exportFor("application/vnd.google-apps.document")
	require.True(t, ok)
	assert.Equal(t, "docx", ext)

	// Prefix matching covers versioned MIME strings.
	ext, ok = c.exportFor("application/vnd.google-apps.spreadsheet; v=2")
	require.True(t, ok)
	assert.Equal(t, "xlsx", ext)

	_, ok = c.exportFor("application/pdf")
	assert.False(t, ok)
}

// memSink collects downloads in memory.
type memSink struct {
	files map[string]string
}

func (m *memSink) WriteFile(name string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if m.files == nil {
		m.files = make(map[string]string)
	}
	m.files[name] = string(data)
	return "/scratch/" + name, nil
}

func TestSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/files" && r.URL.Query().Get("pageToken") == "":
			fmt.Fprint(w, `{"files":[
				{"id":"f1","name":"회의록.pdf","mimeType":"application/pdf","size":10,"webViewLink":"https://drive/f1"},
				{"id":"f2","name":"설문","mimeType":"application/vnd.google-apps.form","webViewLink":"https://drive/f2"}
			],"nextPageToken":"p2"}`)
		case r.URL.Path == "/files" && r.URL.Query().Get("pageToken") == "p2":
			fmt.Fprint(w, `{"files":[
				{"id":"f3","name":"안건","mimeType":"application/vnd.google-apps.document","webViewLink":"https://drive/f3"},
				{"id":"f4","name":"무시하세요.tmp","mimeType":"text/plain"}
			]}`)
		case r.URL.Path == "/files/f1/download":
			fmt.Fprint(w, "pdf-bytes")
		case r.URL.Path == "/files/f3/export":
			assert.Equal(t, "docx", r.URL.Query().Get("format"))
			fmt.Fprint(w, "docx-bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(config.DriveSettings{
		BaseURL:         srv.URL,
		ExcludePatterns: []string{"*.tmp"},
		ExportFormats:   map[string]string{"application/vnd.google-apps.document": "docx"},
	})

	sink := &memSink{}
	files, err := c.Sync(context.Background(), "folder-1", sink)
	require.NoError(t, err)
	require.Len(t, files, 3, "excluded file is dropped")

	assert.Equal(t, "f1", files[0].DriveID)
	assert.Equal(t, "/scratch/회의록.pdf", files[0].LocalPath)
	assert.Equal(t, "pdf-bytes", sink.files["회의록.pdf"])

	assert.True(t, files[1].ReferenceOnly)
	assert.Empty(t, files[1].LocalPath)

	assert.Equal(t, "안건", files[2].Name, "remote name survives the export rename")
	assert.Equal(t, "/scratch/안건.docx", files[2].LocalPath)
	assert.Equal(t, "docx-bytes", sink.files["안건.docx"])
}
