package social

import (
	"fmt"
	"strings"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
)

// Registry keeps a mapping from platform names to publisher implementations.
type Registry struct {
	publishers map[domain.Platform]ports.Publisher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{publishers: map[domain.Platform]ports.Publisher{}}
}

// Register adds or replaces a publisher implementation.
func (r *Registry) Register(p ports.Publisher) {
	if r.publishers == nil {
		r.publishers = map[domain.Platform]ports.Publisher{}
	}
	r.publishers[p.Platform()] = p
}

// Resolve returns a publisher by platform name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.Publisher, error) {
	platform := domain.Platform(strings.ToLower(strings.TrimSpace(name)))
	if p, ok := r.publishers[platform]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("publisher %s is not registered", name)
}

// Enabled resolves names in order, skipping duplicates.
func (r *Registry) Enabled(names []string) ([]ports.Publisher, error) {
	seen := map[domain.Platform]bool{}
	out := make([]ports.Publisher, 0, len(names))
	for _, name := range names {
		p, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		if seen[p.Platform()] {
			continue
		}
		seen[p.Platform()] = true
		out = append(out, p)
	}
	return out, nil
}
