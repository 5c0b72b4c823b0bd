package marketplaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Package marketplaces contains the review source adapters and their YAML/JSON config.

const (
	TypeJetBrains = "jetbrains"
	TypeVSCode    = "vscode"

	defaultPageSize = 100
)

// Source is one marketplace/publisher pair to watch.
type Source struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	Publisher string         `json:"publisher" yaml:"publisher"`
	BaseURL   string         `json:"base_url" yaml:"base_url"`
	PageSize  int            `json:"page_size" yaml:"page_size"`
	Enabled   *bool          `json:"enabled" yaml:"enabled"`
	Config    map[string]any `json:"config" yaml:"config"`
}

type registryFile struct {
	Marketplaces []Source `json:"marketplaces" yaml:"marketplaces"`
}

// SourceRegistry materializes marketplace sources loaded from config files.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources []Source
	idx     map[string]Source
}

// DefaultSources watches the Red Hat publisher on both marketplaces.
func DefaultSources() []Source {
	return []Source{
		{ID: TypeJetBrains, Type: TypeJetBrains, Publisher: "Red-Hat"},
		{ID: TypeVSCode, Type: TypeVSCode, Publisher: "redhat"},
	}
}

// NewSourceRegistry validates sources and indexes them by id.
func NewSourceRegistry(sources []Source) (*SourceRegistry, error) {
	if len(sources) == 0 {
		return nil, errors.New("no marketplace sources configured")
	}

	reg := &SourceRegistry{
		sources: make([]Source, len(sources)),
		idx:     make(map[string]Source, len(sources)),
	}
	for i := range sources {
		src := sanitizeSource(sources[i])
		if err := validateSource(src); err != nil {
			return nil, fmt.Errorf("marketplaces[%d]: %w", i, err)
		}
		if _, exists := reg.idx[src.ID]; exists {
			return nil, fmt.Errorf("duplicate marketplace id %q", src.ID)
		}
		reg.sources[i] = src
		reg.idx[src.ID] = src
	}
	return reg, nil
}

// LoadRegistry loads marketplace sources from a YAML/JSON file.
func LoadRegistry(path string) (*SourceRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("marketplaces file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open marketplaces file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read marketplaces file: %w", err)
	}

	reg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	if len(reg.Marketplaces) == 0 {
		return nil, errors.New("marketplaces file contains no marketplaces entries")
	}

	return NewSourceRegistry(reg.Marketplaces)
}

func parseRegistry(data []byte, ext string) (registryFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		if reg, err := unmarshalRegistry(d.name, data, d.fn); err == nil {
			return reg, nil
		}
	}

	return registryFile{}, errors.New("marketplaces file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (registryFile, error) {
	var reg registryFile
	if err := fn(data, &reg); err != nil {
		return registryFile{}, fmt.Errorf("decode %s marketplaces: %w", name, err)
	}
	return reg, nil
}

func sanitizeSource(s Source) Source {
	s.ID = strings.TrimSpace(s.ID)
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	s.Publisher = strings.TrimSpace(s.Publisher)
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")

	if s.ID == "" {
		s.ID = s.Type
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}
	if s.PageSize <= 0 {
		s.PageSize = defaultPageSize
	}
	if s.Enabled == nil {
		def := true
		s.Enabled = &def
	}

	return s
}

func validateSource(s Source) error {
	if s.Type == "" {
		return fmt.Errorf("type is required for marketplace %q", s.ID)
	}
	if s.Type != TypeJetBrains && s.Type != TypeVSCode {
		return fmt.Errorf("unsupported type %q for marketplace %q", s.Type, s.ID)
	}
	if s.Publisher == "" {
		return fmt.Errorf("publisher is required for marketplace %q", s.ID)
	}
	return nil
}

// All returns all configured sources.
func (r *SourceRegistry) All() []Source {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Enabled returns sources that are enabled, in file order.
func (r *SourceRegistry) Enabled() []Source {
	all := r.All()
	out := make([]Source, 0, len(all))
	for _, src := range all {
		if src.EnabledValue() {
			out = append(out, src)
		}
	}
	return out
}

// ByID returns the source with the given id.
func (r *SourceRegistry) ByID(id string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	id = strings.TrimSpace(id)

	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.idx[id]
	return src, ok
}

// EnabledValue returns enabled flag defaulting to true.
func (s Source) EnabledValue() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}
