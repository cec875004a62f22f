// Package mctp assembles bindings, the router, route sources and metrics
// into a running MCTP endpoint.
package mctp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/config"
	"avaneesh/mctp-go/pkg/internal/logger"
	"avaneesh/mctp-go/pkg/metrics"
	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/router"
	"avaneesh/mctp-go/pkg/routing"
)

var ErrEndpointClosed = errors.New("endpoint is closed")

// Endpoint is the root object of a daemon: it owns the bus set, the router
// and the optional route store and metrics server, and drives the router
// from Run.
type Endpoint struct {
	config  *config.Config
	set     *binding.Set
	router  *router.Router
	store   *routing.Store
	metrics *metrics.Server
	logger  logger.Logger

	mu      sync.Mutex
	running bool
	closed  bool
}

// NewEndpoint opens every configured bus, creates the router and loads
// routes from the static file and then the store. Stored routes override
// static ones.
func NewEndpoint(ctx context.Context, cfg *config.Config) (*Endpoint, error) {
	return NewEndpointWithLogger(ctx, cfg, logger.GetDefault())
}

// NewEndpointWithLogger creates an endpoint with a custom logger
func NewEndpointWithLogger(ctx context.Context, cfg *config.Config, log logger.Logger) (*Endpoint, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	set, err := openLinks(ctx, cfg.Buses, log)
	if err != nil {
		return nil, err
	}

	r, err := router.New(cfg.RouterConfig(), set, router.WithLogger(log))
	if err != nil {
		set.Close()
		return nil, err
	}

	e := &Endpoint{
		config: cfg,
		set:    set,
		router: r,
		logger: log,
	}

	for _, eid := range cfg.Node.LocalEIDs {
		if err := r.Routes().AddLocal(packet.EID(eid)); err != nil {
			e.Close()
			return nil, fmt.Errorf("local EID %d: %w", eid, err)
		}
	}

	if err := e.loadRoutes(); err != nil {
		e.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		e.metrics, err = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, log,
			metrics.NewCollector(r, set))
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	log.Info("Endpoint: EID %s ready with %d buses", r.EID(), len(set.Buses()))
	return e, nil
}

// loadRoutes seeds the routing table from the configured sources
func (e *Endpoint) loadRoutes() error {
	if path := e.config.Routes.StaticFile; path != "" {
		f, err := routing.LoadStatic(path)
		if err != nil {
			return err
		}
		for _, eid := range f.Local {
			if err := e.router.Routes().AddLocal(eid); err != nil {
				return fmt.Errorf("local EID %s: %w", eid, err)
			}
		}
		if err := e.apply(path, f.Routes, false); err != nil {
			return err
		}
	}

	if path := e.config.Routes.Store; path != "" {
		store, err := routing.OpenStore(path)
		if err != nil {
			return fmt.Errorf("failed to open route store %s: %w", path, err)
		}
		e.store = store

		routes, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to read route store %s: %w", path, err)
		}
		if err := e.apply(path, routes, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Endpoint) apply(source string, routes []routing.StoredRoute, replace bool) error {
	skipped, err := routing.Apply(e.router.Routes(), e.set, routes, replace)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	for _, r := range skipped {
		e.logger.Warn("Endpoint: %s: route %s skipped, bus %s not attached", source, r.EID, r.Bus)
	}
	e.logger.Info("Endpoint: loaded %d routes from %s", len(routes)-len(skipped), source)
	return nil
}

// Router returns the endpoint router
func (e *Endpoint) Router() *router.Router {
	return e.router
}

// Buses returns the bus set
func (e *Endpoint) Buses() *binding.Set {
	return e.set
}

// Store returns the route store, or nil when none is configured
func (e *Endpoint) Store() *routing.Store {
	return e.store
}

// AddRoute registers a route on a named bus, replacing any existing route
// for the EID, and persists it when a store is configured. The null EID
// sets the default route.
func (e *Endpoint) AddRoute(r routing.StoredRoute) error {
	if _, ok := e.set.Lookup(r.Bus); !ok {
		return fmt.Errorf("bus %s not attached", r.Bus)
	}
	if _, err := routing.Apply(e.router.Routes(), e.set, []routing.StoredRoute{r}, true); err != nil {
		return err
	}
	if e.store != nil {
		return e.store.Put(r)
	}
	return nil
}

// DeleteRoute removes the route for eid from the table and the store
func (e *Endpoint) DeleteRoute(eid packet.EID) error {
	var err error
	if eid == packet.EIDNull {
		err = e.router.Routes().ClearDefault()
	} else {
		err = e.router.Routes().Unregister(eid)
	}
	if err != nil {
		return err
	}
	if e.store != nil {
		return e.store.Delete(eid)
	}
	return nil
}

// Run drains the buses every poll interval and advances ages every tick
// interval until ctx is cancelled.
func (e *Endpoint) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEndpointClosed
	}
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("endpoint already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if e.metrics != nil {
		if err := e.metrics.Start(ctx); err != nil {
			return err
		}
		defer e.metrics.Stop(context.Background())
	}

	poll := time.NewTicker(e.config.Node.PollInterval)
	defer poll.Stop()
	tick := time.NewTicker(e.config.Node.TickInterval)
	defer tick.Stop()

	e.logger.Info("Endpoint: running")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Endpoint: stopping")
			return nil
		case <-poll.C:
			if _, err := e.router.Poll(); err != nil {
				e.logger.Debug("Endpoint: poll: %v", err)
			}
		case <-tick.C:
			if err := e.router.Tick(); err != nil {
				e.logger.Debug("Endpoint: tick: %v", err)
			}
		}
	}
}

// Close closes every bus and the route store
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if err := e.set.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("Endpoint: closed")
	return errors.Join(errs...)
}
