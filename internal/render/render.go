// Package render materializes a template bundle into a chart workspace.
//
// Files ending in TemplateSuffix are executed with text/template against the deployment context and
// written without the suffix. Every other file is copied byte for byte, so chart templates keep their
// own {{ }} expressions for the chart manager.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/nholik/deckhand/internal/deploycontext"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"helm.sh/helm/v3/pkg/chart/loader"
)

// TemplateSuffix marks files rendered with the deployment context.
const TemplateSuffix = ".gotmpl"

// Renderer renders a bundle directory into a workspace directory.
type Renderer interface {
	Render(ctx context.Context, fromDir, toDir string, data deploycontext.Context) error
}

// Option configures a TemplateRenderer.
type Option func(*TemplateRenderer)

// WithoutChartValidation skips loading the rendered workspace as a chart.
func WithoutChartValidation() Option {
	return func(r *TemplateRenderer) {
		r.validateChart = false
	}
}

// TemplateRenderer is the text/template based Renderer.
type TemplateRenderer struct {
	logger        zerolog.Logger
	validateChart bool
}

// New constructs a TemplateRenderer.
func New(logger zerolog.Logger, opts ...Option) *TemplateRenderer {
	r := &TemplateRenderer{logger: logger, validateChart: true}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Render walks fromDir and writes the rendered tree under toDir.
func (r *TemplateRenderer) Render(ctx context.Context, fromDir, toDir string, data deploycontext.Context) error {
	info, err := os.Stat(fromDir)
	if err != nil {
		return fmt.Errorf("template bundle %s: %w", fromDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template bundle %s is not a directory", fromDir)
	}

	rendered := 0
	err = filepath.WalkDir(fromDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(fromDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(toDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		if strings.HasSuffix(path, TemplateSuffix) {
			dest = strings.TrimSuffix(dest, TemplateSuffix)
			content, err = execute(rel, content, data)
			if err != nil {
				return err
			}
			rendered++
		}
		return os.WriteFile(dest, content, 0o644)
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", fromDir, err)
	}

	r.logger.Debug().
		Str("from", fromDir).
		Str("to", toDir).
		Int("rendered", rendered).
		Msg("template bundle rendered")

	if r.validateChart {
		if err := ValidateChart(toDir); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChart loads dir as a chart and validates its metadata.
func ValidateChart(dir string) error {
	ch, err := loader.Load(dir)
	if err != nil {
		return fmt.Errorf("load rendered chart: %w", err)
	}
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("validate rendered chart %s: %w", ch.Name(), err)
	}
	return nil
}

func execute(name string, content []byte, data deploycontext.Context) ([]byte, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(funcs()).
		Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(data)); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"quote": func(v any) string {
			return strconv.Quote(fmt.Sprint(v))
		},
		"default": func(fallback, v any) any {
			if v == nil || fmt.Sprint(v) == "" {
				return fallback
			}
			return v
		},
		"toYaml": func(v any) (string, error) {
			out, err := yaml.Marshal(v)
			if err != nil {
				return "", err
			}
			return strings.TrimSuffix(string(out), "\n"), nil
		},
		"indent": func(spaces int, s string) string {
			pad := strings.Repeat(" ", spaces)
			return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
		},
	}
}
