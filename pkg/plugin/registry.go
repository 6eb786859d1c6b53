package plugin

import (
	"fmt"

	"github.com/megayours/megaforwarder/pkg/oracleerr"
)

// Registry is the process-wide id-to-handler mapping. NewRegistry builds it
// at startup from every configured plugin; after startup the registry is
// read-only, so Get needs no lock — mirrors the ValidatorSet construction
// discipline in backend/pkg/consensus/types: build once, hand out a
// read-only view.
type Registry struct {
	handlers map[string]ErasedHandler
}

// NewRegistry builds a Registry from a set of handlers already erased via
// Adapt by the caller. Construction is the only mutation point; the
// returned Registry is safe for concurrent Get calls without further
// synchronization.
func NewRegistry(handlers ...ErasedHandler) (*Registry, error) {
	m := make(map[string]ErasedHandler, len(handlers))
	for _, h := range handlers {
		id := h.ID()
		if id == "" {
			return nil, fmt.Errorf("plugin: handler registered with empty id")
		}
		if _, exists := m[id]; exists {
			return nil, fmt.Errorf("plugin: duplicate handler id %q", id)
		}
		m[id] = h
	}
	return &Registry{handlers: m}, nil
}

// Get returns the handler registered for id, or a NotFound oracleerr.Error.
func (r *Registry) Get(id string) (ErasedHandler, error) {
	h, ok := r.handlers[id]
	if !ok {
		return nil, oracleerr.Newf(oracleerr.KindNotFound, "no plugin registered for id %q", id).WithContext("pluginId", id)
	}
	return h, nil
}

// IDs returns the registered plugin ids, for diagnostics/listing endpoints.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}
