// Package artifact stores exported documents. Every save under a name
// appends a new immutable version; readers always get copies. The interface
// mirrors what a durable backend would offer so the in-memory store can be
// swapped without touching the export path.
package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

// Artifact is one stored version of an exported document.
type Artifact struct {
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	ContentType string            `json:"content_type,omitempty"`
	Data        []byte            `json:"data"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store is the persistence surface for export artifacts.
type Store interface {
	// Save appends a new version under the name and returns it. Versions
	// start at 1.
	Save(ctx context.Context, a Artifact) (int, error)
	// Get fetches one version. Version 0 means latest.
	Get(ctx context.Context, name string, version int) (Artifact, error)
	// List returns the names with their latest version, sorted by name.
	List(ctx context.Context) ([]Artifact, error)
}

// InMemoryStore is a Store backed by process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]Artifact
	now      func() time.Time
}

// NewInMemoryStore creates an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		versions: make(map[string][]Artifact),
		now:      time.Now,
	}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, a Artifact) (int, error) {
	if a.Name == "" {
		return 0, core.NewError(core.KindInternal, "artifact.save", "artifact name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a.Version = len(s.versions[a.Name]) + 1
	a.CreatedAt = s.now().UTC()
	a.Data = append([]byte(nil), a.Data...)
	if a.Metadata != nil {
		meta := make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			meta[k] = v
		}
		a.Metadata = meta
	}
	s.versions[a.Name] = append(s.versions[a.Name], a)
	return a.Version, nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, name string, version int) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.versions[name]
	if !ok {
		return Artifact{}, core.NewError(core.KindInternal, "artifact.get", fmt.Sprintf("unknown artifact %q", name))
	}
	if version == 0 {
		version = len(history)
	}
	if version < 1 || version > len(history) {
		return Artifact{}, core.NewError(core.KindInternal, "artifact.get",
			fmt.Sprintf("artifact %q has no version %d", name, version))
	}
	return cloneArtifact(history[version-1]), nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Artifact, 0, len(s.versions))
	for _, history := range s.versions {
		out = append(out, cloneArtifact(history[len(history)-1]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneArtifact(a Artifact) Artifact {
	a.Data = append([]byte(nil), a.Data...)
	if a.Metadata != nil {
		meta := make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			meta[k] = v
		}
		a.Metadata = meta
	}
	return a
}
