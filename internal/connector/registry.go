package connector

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/ratelimit"
)

// Registry maps connector ids to their implementations.
type Registry struct {
	connectors map[string]Connector
	order      []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register adds a connector. Registering an id twice replaces the earlier
// connector but keeps its position.
func (r *Registry) Register(c Connector) {
	id := c.ID()
	if _, ok := r.connectors[id]; !ok {
		r.order = append(r.order, id)
	}
	r.connectors[id] = c
}

// Get returns a connector by id.
func (r *Registry) Get(id string) (Connector, error) {
	c, ok := r.connectors[id]
	if !ok {
		return nil, eris.Errorf("connector: unknown connector %q", id)
	}
	return c, nil
}

// All returns all connectors in registration order.
func (r *Registry) All() []Connector {
	result := make([]Connector, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.connectors[id])
	}
	return result
}

// IDs returns all registered ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	return len(r.order)
}

// Listers returns the connectors that can enumerate their whole feed.
func (r *Registry) Listers() []Lister {
	var out []Lister
	for _, id := range r.order {
		if l, ok := r.connectors[id].(Lister); ok {
			out = append(out, l)
		}
	}
	return out
}

// Trust returns the trust table of the registered connectors.
func (r *Registry) Trust() map[string]float64 {
	out := make(map[string]float64, len(r.order))
	for _, id := range r.order {
		out[id] = r.connectors[id].TrustWeight()
	}
	return out
}

// RegisterLimits registers every connector's budget with lim.
func (r *Registry) RegisterLimits(lim *ratelimit.Limiter) {
	for _, id := range r.order {
		lim.Register(id, r.connectors[id].RateLimit())
	}
}
