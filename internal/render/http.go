package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
)

const maxDocumentBytes = 25 * 1024 * 1024

// HTTP posts HTML to a headless rendering service and returns its body.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP builds a renderer calling url.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) Render(ctx context.Context, html string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(html))
	if err != nil {
		return nil, "", apperr.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("render document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", fmt.Errorf("render document: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", apperr.Permanent(fmt.Errorf("render document: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}
	if len(body) > maxDocumentBytes {
		return nil, "", apperr.Permanent(fmt.Errorf("document too large (>%d bytes)", maxDocumentBytes))
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/pdf"
	}
	return body, mime, nil
}
