package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/metrics"
	"github.com/PaulBabatuyi/chatsync/internal/paths"
)

// HandlerFunc reacts to one event. A returned error asks for redelivery.
type HandlerFunc func(ctx context.Context, ev Event) error

type route struct {
	name    string
	pattern string
	kinds   map[Kind]bool // nil means every kind
	handler HandlerFunc
}

// Router maps document path patterns to handlers. Routes may be registered
// while events are being dispatched.
type Router struct {
	mu      sync.RWMutex
	routes  []route
	metrics *metrics.Metrics // optional
}

// NewRouter creates an empty router. m may be nil.
func NewRouter(m *metrics.Metrics) *Router {
	return &Router{metrics: m}
}

// Handle registers h for writes to documents matching pattern. When kinds
// are given the handler only sees those transitions.
func (r *Router) Handle(name, pattern string, h HandlerFunc, kinds ...Kind) {
	rt := route{name: name, pattern: pattern, handler: h}
	if len(kinds) > 0 {
		rt.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			rt.kinds[k] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, rt)
}

// Dispatch invokes every route matching the event. All matching handlers run
// even when one fails; the errors are joined.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	r.mu.RLock()
	routes := make([]route, len(r.routes))
	copy(routes, r.routes)
	r.mu.RUnlock()

	kind := ev.Kind()
	var errs []error
	for _, rt := range routes {
		if rt.kinds != nil && !rt.kinds[kind] {
			continue
		}
		params, ok := paths.Match(rt.pattern, ev.Path.String())
		if !ok {
			continue
		}
		routed := ev
		routed.Params = params

		start := time.Now()
		err := rt.handler(ctx, routed)
		r.observe(rt.name, start, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) observe(name string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.Invocations.WithLabelValues(name, outcome).Inc()
	r.metrics.Duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
