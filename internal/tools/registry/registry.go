// Package registry implements the on-disk Tool Registry (component C): one
// YAML document per tool schema, content-addressed by tool name, refreshed
// copy-on-write so in-flight readers never observe a half-written file.
package registry

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/CharanRayudu/SentryAI/internal/tools"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Registry is a read-mostly, thread-safe store of tool schemas. Readers get a
// point-in-time snapshot; Refresh atomically swaps in a newly loaded snapshot
// so concurrent lookups never block on disk I/O or observe a partial load.
type Registry struct {
	dir      string
	snapshot atomic.Pointer[map[string]*tools.Schema]
	mu       sync.Mutex // serializes writers (Put/Remove/Refresh)
}

// New builds a Registry rooted at dir, loading the built-in schemas first and
// then any YAML files found under dir (which may override a built-in by
// name). dir is created if absent.
func New(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("registry: create dir: %w", err)
		}
	}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads every schema from the built-ins and dir, validates each,
// and atomically installs the result. An error aborts the refresh, leaving
// the previous snapshot (if any) in place.
func (r *Registry) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*tools.Schema)

	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return fmt.Errorf("registry: read builtin schemas: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := builtinFS.ReadFile(filepath.Join("builtin", e.Name()))
		if err != nil {
			return fmt.Errorf("registry: read builtin %s: %w", e.Name(), err)
		}
		s, err := decode(data)
		if err != nil {
			return fmt.Errorf("registry: decode builtin %s: %w", e.Name(), err)
		}
		next[s.Name] = s
	}

	if r.dir != "" {
		diskEntries, err := os.ReadDir(r.dir)
		if err != nil {
			return fmt.Errorf("registry: read dir: %w", err)
		}
		for _, e := range diskEntries {
			if e.IsDir() || !isYAML(e.Name()) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
			if err != nil {
				return fmt.Errorf("registry: read %s: %w", e.Name(), err)
			}
			s, err := decode(data)
			if err != nil {
				return fmt.Errorf("registry: decode %s: %w", e.Name(), err)
			}
			next[s.Name] = s
		}
	}

	r.snapshot.Store(&next)
	return nil
}

// Get returns the named schema from the current snapshot.
func (r *Registry) Get(name string) (*tools.Schema, bool) {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil, false
	}
	s, ok := (*snap)[name]
	return s, ok
}

// List returns every schema in the current snapshot, in no particular order.
func (r *Registry) List() []*tools.Schema {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil
	}
	out := make([]*tools.Schema, 0, len(*snap))
	for _, s := range *snap {
		out = append(out, s)
	}
	return out
}

// Put validates and writes s to dir as "<name>.yaml", then refreshes the
// snapshot. Returns an error without touching disk if s fails validation.
func (r *Registry) Put(s *tools.Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if r.dir == "" {
		return fmt.Errorf("registry: no on-disk directory configured, cannot persist %q", s.Name)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("registry: marshal %q: %w", s.Name, err)
	}
	path := filepath.Join(r.dir, s.Name+".yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %q: %w", s.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("registry: install %q: %w", s.Name, err)
	}
	return r.Refresh()
}

// Remove deletes the named tool's on-disk schema (built-ins cannot be
// removed, only shadowed by a Put of the same name) and refreshes.
func (r *Registry) Remove(name string) error {
	if r.dir == "" {
		return fmt.Errorf("registry: no on-disk directory configured")
	}
	path := filepath.Join(r.dir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("registry: remove %q: %w", name, err)
	}
	return r.Refresh()
}

func decode(data []byte) (*tools.Schema, error) {
	var s tools.Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
