// Package render turns document template output into printable bytes.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/character-tun/character-crm-sub000/internal/config"
)

// DocumentRenderer converts rendered HTML into a document.
type DocumentRenderer interface {
	Render(ctx context.Context, html string) ([]byte, string, error)
}

// New chooses the renderer named by cfg.Renderer.
func New(cfg config.Config) (DocumentRenderer, error) {
	switch strings.ToLower(cfg.Renderer) {
	case "http":
		if cfg.RendererURL == "" {
			return nil, fmt.Errorf("renderer http requested but RENDERER_URL is not configured")
		}
		timeout := cfg.RendererTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		return NewHTTP(cfg.RendererURL, timeout), nil
	case "raster", "":
		return NewRaster(), nil
	}
	return nil, fmt.Errorf("unknown renderer %q", cfg.Renderer)
}

// Extension maps a document mime type to a file extension.
func Extension(mime string) string {
	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "pdf"):
		return ".pdf"
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "html"):
		return ".html"
	}
	return ".bin"
}
