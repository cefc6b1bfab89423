package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"image"
	"image/color"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	blockTags = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/h[1-6]|/li|/tr)\s*/?>`)
	anyTag    = regexp.MustCompile(`<[^>]*>`)
)

// Raster draws the text content of the HTML onto a PNG page. It needs no
// external service and is the default renderer.
type Raster struct {
	Width  int
	Height int
	Margin int
}

// NewRaster returns an A4-proportioned renderer.
func NewRaster() *Raster {
	return &Raster{Width: 794, Height: 1123, Margin: 48}
}

func (r *Raster) Render(ctx context.Context, doc string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	face := basicfont.Face7x13
	lineHeight := face.Height + 4
	charsPerLine := (r.Width - 2*r.Margin) / face.Advance
	if charsPerLine < 1 {
		charsPerLine = 1
	}

	page := imaging.New(r.Width, r.Height, color.White)
	d := &font.Drawer{Dst: page, Src: image.NewUniform(color.Black), Face: face}

	y := r.Margin + face.Ascent
	for _, line := range wrap(textLines(doc), charsPerLine) {
		if y > r.Height-r.Margin {
			break
		}
		d.Dot = fixed.P(r.Margin, y)
		d.DrawString(line)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, page, imaging.PNG); err != nil {
		return nil, "", fmt.Errorf("encode page: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

// textLines strips markup, keeping block boundaries as line breaks.
func textLines(doc string) []string {
	doc = blockTags.ReplaceAllString(doc, "\n")
	doc = html.UnescapeString(anyTag.ReplaceAllString(doc, ""))
	lines := make([]string, 0)
	for _, line := range strings.Split(doc, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func wrap(lines []string, width int) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		for len([]rune(line)) > width {
			runes := []rune(line)
			cut := width
			if i := strings.LastIndex(string(runes[:width]), " "); i > 0 {
				cut = len([]rune(string(runes[:width])[:i]))
			}
			out = append(out, strings.TrimSpace(string(runes[:cut])))
			line = strings.TrimSpace(string(runes[cut:]))
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
