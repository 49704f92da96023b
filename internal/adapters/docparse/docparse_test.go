package docparse

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/domain"
)

func TestDecodeResponseObjectShapes(t *testing.T) {
	t.Run("markdown field wins", func(t *testing.T) {
		res, err := decodeResponse([]byte(`{"markdown":"# 제목","text":"무시"}`))
		require.NoError(t, err)
		assert.Equal(t, "# 제목", res.Markdown)
	})

	t.Run("text fallback", func(t *testing.T) {
		res, err := decodeResponse([]byte(`{"text":"본문"}`))
		require.NoError(t, err)
		assert.Equal(t, "본문", res.Markdown)
	})

	t.Run("html is converted", func(t *testing.T) {
		res, err := decodeResponse([]byte(`{"html":"<h1>제목</h1><p>본문</p>"}`))
		require.NoError(t, err)
		assert.Contains(t, res.Markdown, "# 제목")
		assert.Contains(t, res.Markdown, "본문")
	})
}

func TestDecodeResponsePartsList(t *testing.T) {
	raw := []byte(`[
		{"type":"heading","markdown":"# 제목"},
		{"type":"para","text":"첫 단락"},
		{"type":"para","content":"둘째 단락"},
		{"type":"empty"}
	]`)
	res, err := decodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "# 제목\n\n첫 단락\n\n둘째 단락", res.Markdown)
}

func TestDecodeResponseBareString(t *testing.T) {
	res, err := decodeResponse([]byte(`"전체 본문"`))
	require.NoError(t, err)
	assert.Equal(t, "전체 본문", res.Markdown)
}

func TestDecodeResponseAssets(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	raw := []byte(`{"markdown":"본문 {{img-1}}","assets":[
		{"id":"img-1","kind":"image","page":2,"bbox":[0,0,100,50],"data":"` + img + `","placeholder":"{{img-1}}"},
		{"id":"x","kind":"chart","data":""}
	]}`)

	res, err := decodeResponse(raw)
	require.NoError(t, err)
	require.Len(t, res.Assets, 1, "unknown asset kinds are dropped")

	a := res.Assets[0]
	assert.Equal(t, "img-1", a.ID)
	assert.Equal(t, AssetImage, a.Kind)
	assert.Equal(t, 2, a.Page)
	assert.Equal(t, [4]float64{0, 0, 100, 50}, a.BBox)
	assert.Equal(t, []byte("png-bytes"), a.Bytes)
	assert.Equal(t, "{{img-1}}", a.Placeholder)
}

func TestDecodeResponseRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		[]byte("   "),
		[]byte("<html>"),
		[]byte(`{"markdown":`),
		[]byte(`{"assets":[{"id":"a","kind":"image","data":"%%%"}]}`),
	} {
		_, err := decodeResponse(raw)
		require.Error(t, err, "raw %q", raw)
		assert.Equal(t, domain.KindExternalPermanent, domain.KindOf(err), "raw %q", raw)
	}
}
