package factlog

import (
	"context"
	"fmt"
	"sort"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// Handler processes one fact
type Handler func(ctx context.Context, fact domain.Fact) error

// Router dispatches facts by type. Routes are registered once at startup.
type Router struct {
	routes map[domain.FactType]Handler
}

func NewRouter() *Router {
	return &Router{routes: make(map[domain.FactType]Handler)}
}

// Handle registers h for factType, replacing any previous route
func (r *Router) Handle(factType domain.FactType, h Handler) *Router {
	r.routes[factType] = h
	return r
}

// On registers a handler that receives the payload already decoded into T
func On[T any](r *Router, factType domain.FactType, fn func(ctx context.Context, fact domain.Fact, payload T) error) {
	r.Handle(factType, func(ctx context.Context, fact domain.Fact) error {
		var payload T
		if err := fact.Decode(&payload); err != nil {
			return err
		}
		return fn(ctx, fact, payload)
	})
}

// Route runs the handler registered for fact.Type. Unknown types are skipped.
func (r *Router) Route(ctx context.Context, fact domain.Fact) (bool, error) {
	h, ok := r.routes[fact.Type]
	if !ok {
		return false, nil
	}
	if err := h(ctx, fact); err != nil {
		return true, fmt.Errorf("handler for %s failed: %w", fact.Type, err)
	}
	return true, nil
}

// Types lists the registered fact types
func (r *Router) Types() []domain.FactType {
	types := make([]domain.FactType, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
