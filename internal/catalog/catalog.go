// Package catalog seeds statuses and templates from a YAML file.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/models"
)

// File is the YAML document layout.
type File struct {
	Templates []models.Template         `yaml:"templates"`
	Statuses  []models.StatusDefinition `yaml:"statuses"`
}

// TemplateWriter creates templates.
type TemplateWriter interface {
	Create(ctx context.Context, tpl models.Template) (models.Template, error)
}

// StatusWriter creates statuses.
type StatusWriter interface {
	Create(ctx context.Context, def models.StatusDefinition) (models.StatusDefinition, error)
}

// Result counts what a seed run created and skipped.
type Result struct {
	TemplatesCreated int
	TemplatesSkipped int
	StatusesCreated  int
	StatusesSkipped  int
}

// Load parses a catalog file.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a catalog document.
func Decode(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("decode catalog: %w", err)
	}
	return file, nil
}

// Seed creates templates first so status actions can resolve them. Entries
// that already exist are skipped, so seeding is repeatable.
func Seed(ctx context.Context, file File, templates TemplateWriter, statuses StatusWriter) (Result, error) {
	var res Result
	for _, tpl := range file.Templates {
		_, err := templates.Create(ctx, tpl)
		switch {
		case err == nil:
			res.TemplatesCreated++
		case apperr.Is(err, apperr.CodeTemplateConflict):
			res.TemplatesSkipped++
		default:
			return res, fmt.Errorf("seed template %s/%s: %w", tpl.Kind, tpl.Code, err)
		}
	}
	for _, def := range file.Statuses {
		_, err := statuses.Create(ctx, def)
		switch {
		case err == nil:
			res.StatusesCreated++
		case apperr.Is(err, apperr.CodeStatusConflict):
			res.StatusesSkipped++
		default:
			return res, fmt.Errorf("seed status %s: %w", def.Code, err)
		}
	}
	return res, nil
}
