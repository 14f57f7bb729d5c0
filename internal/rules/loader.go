// Package rules loads framework rule documents, validates and compiles them,
// and exposes the result as an immutable, versioned registry.
package rules

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pitabwire/leanflow/model"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue/*.yaml
var catalogue embed.FS

// Document is one framework's rule document.
type Document struct {
	Framework model.Framework `yaml:"framework"`
	Version   string          `yaml:"version"`
	Rules     []RuleSpec      `yaml:"rules"`
}

// RuleSpec is a rule record as written in a document.
type RuleSpec struct {
	ID         string                        `yaml:"id"`
	Predicate  string                        `yaml:"predicate"`
	Variants   map[string]string             `yaml:"variants"`
	Severity   model.Severity                `yaml:"severity"`
	Cause      string                        `yaml:"cause"`
	Basis      string                        `yaml:"basis"`
	Benchmarks map[string]map[string]float64 `yaml:"benchmarks"`
	Potential  model.PercentRange            `yaml:"potential"`
	Solution   *model.SolutionTemplate       `yaml:"solution"`
}

// SynergyDocument lists combined solutions for causes shared across
// frameworks.
type SynergyDocument struct {
	Version   string        `yaml:"version"`
	Synergies []SynergySpec `yaml:"synergies"`
}

// SynergySpec is the combined solution for one cause signature.
type SynergySpec struct {
	Cause    string   `yaml:"cause"`
	Title    string   `yaml:"title"`
	Steps    []string `yaml:"steps"`
	Timeline string   `yaml:"timeline"`
}

// Source is a parsed document together with its provenance.
type Source struct {
	Path     string
	Checksum string
	Rules    *Document
	Synergy  *SynergyDocument
}

// Loader reads rule documents from a file system.
type Loader struct{}

// NewLoader creates a new rules Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDir reads every *.yaml and *.yml document in dir.
func (l *Loader) LoadDir(dir string) ([]Source, error) {
	return l.LoadFS(os.DirFS(dir), ".")
}

// LoadEmbedded reads the built-in catalogue.
func (l *Loader) LoadEmbedded() ([]Source, error) {
	return l.LoadFS(catalogue, "catalogue")
}

// LoadFS reads every *.yaml and *.yml document under root in fsys, ordered by
// path.
func (l *Loader) LoadFS(fsys fs.FS, root string) ([]Source, error) {
	var sources []Source
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		src, err := l.Parse(p, data)
		if err != nil {
			return err
		}
		sources = append(sources, src)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// Parse decodes a single document. A document with a top-level synergies key
// is a synergy document; anything else is a rule document.
func (l *Loader) Parse(name string, data []byte) (Source, error) {
	var probe struct {
		Synergies yaml.Node `yaml:"synergies"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Source{}, fmt.Errorf("parsing %s: %w", name, err)
	}

	src := Source{Path: name, Checksum: fmt.Sprintf("%x", sha256.Sum256(data))}
	if !probe.Synergies.IsZero() {
		var doc SynergyDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Source{}, fmt.Errorf("parsing %s: %w", name, err)
		}
		src.Synergy = &doc
		return src, nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Source{}, fmt.Errorf("parsing %s: %w", name, err)
	}
	src.Rules = &doc
	return src, nil
}
