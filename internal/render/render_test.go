package render

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/config"
)

func TestHTTPRendererPostsHTML(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	out, mime, err := NewHTTP(srv.URL, 2*time.Second).Render(context.Background(), "<h1>Invoice</h1>")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Invoice</h1>", got)
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, "%PDF-1.4", string(out))
}

func TestHTTPRendererClassifiesFailures(t *testing.T) {
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	r := NewHTTP(srv.URL, 2*time.Second)

	_, _, err := r.Render(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, apperr.IsPermanent(err), "5xx is retryable")

	status = http.StatusUnprocessableEntity
	_, _, err = r.Render(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apperr.IsPermanent(err), "4xx is permanent")
}

func TestRasterProducesPNG(t *testing.T) {
	out, mime, err := NewRaster().Render(context.Background(), "<h1>Invoice A-1</h1><p>Total: 100 &amp; change</p>")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 794, img.Bounds().Dx())
}

func TestTextLinesAndWrap(t *testing.T) {
	lines := textLines("<h1>Title</h1><p>a &lt;b&gt;   c</p>tail")
	assert.Equal(t, []string{"Title", "a <b> c", "tail"}, lines)
	assert.Equal(t, []string{"one two", "three"}, wrap([]string{"one two three"}, 8))
}

func TestNewSelectsRenderer(t *testing.T) {
	r, err := New(config.Config{})
	require.NoError(t, err)
	assert.IsType(t, &Raster{}, r)
	_, err = New(config.Config{Renderer: "http"})
	assert.Error(t, err)
	assert.Equal(t, ".pdf", Extension("application/pdf"))
	assert.Equal(t, ".png", Extension("image/png"))
}
