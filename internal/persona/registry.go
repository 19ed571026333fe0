package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	errx "github.com/personacast/server/internal/core/error"
	logx "github.com/personacast/server/pkg/logger"
)

// Registry loads and caches persona documents from a directory. Reads are
// lock-protected map lookups returning immutable *Spec pointers; LoadAll and
// Reload install freshly parsed specs as whole-pointer replacements, so a
// concurrent reader always observes a fully-old or fully-new document.
type Registry struct {
	dir      string
	validate *validator.Validate

	mu    sync.RWMutex
	specs map[string]*Spec
	paths map[string]string // declared id -> file path it was loaded from
}

// NewRegistry creates an empty registry for the configured directory.
// Call LoadAll to populate it.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		dir:      cfg.Dir,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		specs:    make(map[string]*Spec),
		paths:    make(map[string]string),
	}
}

// Load parses a single persona document. It is a pure function of the file
// content; it does not touch registry state. YAML is a superset of JSON, so
// .json documents parse through the same path.
func Load(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona document: %w", err)
	}

	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse persona document: %w", err)
	}
	return &spec, nil
}

// LoadAll scans the directory and installs every document that parses and
// validates, keyed by declared id. A malformed document is logged and
// skipped; it never aborts the scan. A missing directory yields an empty
// registry with a warning, because the system must still start with no
// personas available.
func (r *Registry) LoadAll() map[string]*Spec {
	log := logx.Component("persona")

	specs := make(map[string]*Spec)
	paths := make(map[string]string)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", r.dir).Msg("Persona directory unavailable; starting with no personas")
		r.install(specs, paths)
		return specs
	}

	for _, e := range entries {
		if e.IsDir() || !isPersonaFile(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())

		spec, err := r.loadValid(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Skipping malformed persona document")
			continue
		}
		if prev, ok := paths[spec.ID]; ok {
			log.Warn().Str("id", spec.ID).Str("path", path).Str("kept", prev).Msg("Duplicate persona id; keeping first document")
			continue
		}
		specs[spec.ID] = spec
		paths[spec.ID] = path
	}

	log.Info().Int("count", len(specs)).Str("dir", r.dir).Msg("Personas loaded")
	r.install(specs, paths)
	return specs
}

// Reload re-reads exactly one document by persona id and atomically swaps
// the cached spec. Documents added to the directory after startup are found
// by a rescan. Returns errx.ErrPersonaNotFound when no document carries the id.
func (r *Registry) Reload(id string) (*Spec, error) {
	path, ok := r.pathFor(id)
	if !ok {
		// The document may have appeared after the last scan.
		if found, err := r.findByID(id); err == nil {
			path = found
		} else {
			return nil, errx.PersonaNotFound(id)
		}
	}

	spec, err := r.loadValid(path)
	if err != nil {
		return nil, fmt.Errorf("reload persona %q: %w", id, err)
	}
	if spec.ID != id {
		// The file was repurposed for a different persona; the old id no
		// longer has a backing document.
		r.remove(id)
		r.set(spec, path)
		return nil, errx.PersonaNotFound(id)
	}

	r.set(spec, path)
	plog := logx.Component("persona")
	plog.Info().Str("id", id).Str("path", path).Msg("Persona reloaded")
	return spec, nil
}

// Get returns the current spec for id.
func (r *Registry) Get(id string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[id]
	return spec, ok
}

// IDs lists known persona ids in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) loadValid(path string) (*Spec, error) {
	spec, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := r.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("invalid persona document: %w", err)
	}
	return spec, nil
}

// findByID rescans the directory for a document declaring the given id.
func (r *Registry) findByID(id string) (string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() || !isPersonaFile(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		spec, err := r.loadValid(path)
		if err != nil {
			continue
		}
		if spec.ID == id {
			return path, nil
		}
	}
	return "", fmt.Errorf("no document with id %q", id)
}

func (r *Registry) install(specs map[string]*Spec, paths map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = specs
	r.paths = paths
}

func (r *Registry) set(spec *Spec, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ID] = spec
	r.paths[spec.ID] = path
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.specs, id)
	delete(r.paths, id)
}

func (r *Registry) idForPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.paths {
		if p == path {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) pathFor(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.paths[id]
	return path, ok
}

func isPersonaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
