package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/fixedpoint"
)

// Registry fans out equity.VenueAdapter and settlement.VenueForwarder
// calls to the Client registered under each venue name. The equity engine
// and settlement coordinator each hold one Registry rather than one Client
// per venue, since both need to address an arbitrary venue by name at
// call time.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register wires a venue's Client under its name.
func (r *Registry) Register(name string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

func (r *Registry) get(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("venue: no client registered for %q", name)
	}
	return c, nil
}

// ForwardCoveredFunds routes to the Client registered for venue.
func (r *Registry) ForwardCoveredFunds(ctx context.Context, venueName string, user uuid.UUID, amount fixedpoint.Money) error {
	c, err := r.get(venueName)
	if err != nil {
		return err
	}
	return c.ForwardCoveredFunds(ctx, venueName, user, amount)
}

// PerVenueAdapter narrows Registry to the equity.VenueAdapter interface for
// one named venue — equity.Engine.RegisterAdapter wants one adapter per
// venue name, not a name-routing fan-out.
type PerVenueAdapter struct {
	name     string
	registry *Registry
}

func (r *Registry) AdapterFor(name string) *PerVenueAdapter {
	return &PerVenueAdapter{name: name, registry: r}
}

func (a *PerVenueAdapter) SetUserBalance(ctx context.Context, user uuid.UUID, equity int64, sequence int64) error {
	c, err := a.registry.get(a.name)
	if err != nil {
		return err
	}
	return c.SetUserBalance(ctx, user, equity, sequence)
}

func (a *PerVenueAdapter) FreezeNewOrders(ctx context.Context, user uuid.UUID) error {
	c, err := a.registry.get(a.name)
	if err != nil {
		return err
	}
	return c.FreezeNewOrders(ctx, user)
}
