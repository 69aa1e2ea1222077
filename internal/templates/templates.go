// Package templates loads per-document-type schema files describing the
// sections a disclosure document is expected to contain. Templates are read
// once at startup and treated as immutable afterwards.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathSeparator joins nested section names into a flat path.
const PathSeparator = " - "

// Section is one expected section, possibly nested.
type Section struct {
	ID               string    `yaml:"id"`
	Name             string    `yaml:"name"`
	Required         bool      `yaml:"required"`
	AlternativeNames []string  `yaml:"alternative_names"`
	Items            []Section `yaml:"items"`
	Tables           []string  `yaml:"tables"`
	Subsections      []Section `yaml:"subsections"`
}

// Template is the schema for one document type.
type Template struct {
	DocumentType         string    `yaml:"document_type"`
	DisplayName          string    `yaml:"display_name"`
	Description          string    `yaml:"description"`
	Sections             []Section `yaml:"sections"`
	ImportantSections    []string  `yaml:"important_sections"`
	KeywordsForDetection []string  `yaml:"keywords_for_detection"`
}

// ExpectedSection is a flattened view of a template section used by the
// section detector: the full path plus the leaf's alternatives.
type ExpectedSection struct {
	Path             string
	Required         bool
	AlternativeNames []string
}

// Registry holds all templates loaded from a directory.
type Registry struct {
	templates map[string]Template
}

// NewRegistry reads every *.yaml file under dir, keyed by file stem.
func NewRegistry(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir %s: %w", dir, err)
	}

	reg := &Registry{templates: make(map[string]Template)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", path, err)
		}
		var tpl Template
		if err := yaml.Unmarshal(raw, &tpl); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", path, err)
		}
		stem := strings.TrimSuffix(entry.Name(), ".yaml")
		if tpl.DocumentType == "" {
			tpl.DocumentType = stem
		}
		reg.templates[stem] = tpl
	}
	return reg, nil
}

// Load returns the template for a document type. Unknown types get a
// degenerate template with no expected sections.
func (r *Registry) Load(docType string) Template {
	if tpl, ok := r.templates[docType]; ok {
		return tpl
	}
	return Template{DocumentType: docType}
}

// Has reports whether a template exists for the document type.
func (r *Registry) Has(docType string) bool {
	_, ok := r.templates[docType]
	return ok
}

// ListTypes returns the known document types in sorted order.
func (r *Registry) ListTypes() []string {
	out := make([]string, 0, len(r.templates))
	for key := range r.templates {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// DisplayName returns the human-readable name for a document type,
// falling back to the type identifier.
func (r *Registry) DisplayName(docType string) string {
	if tpl, ok := r.templates[docType]; ok && tpl.DisplayName != "" {
		return tpl.DisplayName
	}
	return docType
}

// ExpectedSections flattens the template's section tree. Nested names are
// joined with PathSeparator so "企業の概況" with subsection "主要な経営指標"
// becomes "企業の概況 - 主要な経営指標".
func (t Template) ExpectedSections() []ExpectedSection {
	var out []ExpectedSection
	for _, sec := range t.Sections {
		flattenSection(sec, "", &out)
	}
	return out
}

// SectionNames returns only the flattened paths.
func (t Template) SectionNames() []string {
	expected := t.ExpectedSections()
	names := make([]string, 0, len(expected))
	for _, sec := range expected {
		names = append(names, sec.Path)
	}
	return names
}

func flattenSection(sec Section, parent string, out *[]ExpectedSection) {
	if sec.Name == "" {
		return
	}
	path := sec.Name
	if parent != "" {
		path = parent + PathSeparator + sec.Name
	}
	*out = append(*out, ExpectedSection{
		Path:             path,
		Required:         sec.Required,
		AlternativeNames: append([]string(nil), sec.AlternativeNames...),
	})
	for _, sub := range sec.Subsections {
		flattenSection(sub, path, out)
	}
	for _, item := range sec.Items {
		flattenSection(item, path, out)
	}
}

// RenderTree renders the section hierarchy as an indented list for use in
// detection prompts.
func (t Template) RenderTree() string {
	var b strings.Builder
	for _, sec := range t.Sections {
		renderSection(&b, sec, 0)
	}
	return b.String()
}

func renderSection(b *strings.Builder, sec Section, depth int) {
	if sec.Name == "" {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("- ")
	b.WriteString(sec.Name)
	if len(sec.AlternativeNames) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(sec.AlternativeNames, ", "))
		b.WriteString(")")
	}
	b.WriteString("\n")
	for _, sub := range sec.Subsections {
		renderSection(b, sub, depth+1)
	}
	for _, item := range sec.Items {
		renderSection(b, item, depth+1)
	}
}

// KeywordMap returns detection keywords per document type for the classifier.
func (r *Registry) KeywordMap() map[string][]string {
	out := make(map[string][]string, len(r.templates))
	for key, tpl := range r.templates {
		out[key] = append([]string(nil), tpl.KeywordsForDetection...)
	}
	return out
}
