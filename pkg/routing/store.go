package routing

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/packet"
)

var routesBucket = []byte("routes")

// StoredRoute is the persistent form of a route. Buses are referenced by
// name because handles are only meaningful inside one process.
type StoredRoute struct {
	EID  packet.EID `toml:"eid" yaml:"eid"`
	Bus  string     `toml:"bus" yaml:"bus"`
	Addr string     `toml:"addr" yaml:"addr,omitempty"` // Hex encoded address hint
}

// IsDefault returns true for the bus owner route, stored under the null EID
func (r StoredRoute) IsDefault() bool {
	return r.EID == packet.EIDNull
}

// Validate checks the route can be applied to a table
func (r StoredRoute) Validate() error {
	if r.EID == packet.EIDBroadcast {
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, r.EID)
	}
	if r.Bus == "" {
		return fmt.Errorf("route for %s has no bus", r.EID)
	}
	if _, err := binding.ParsePhysAddr(r.Addr); err != nil {
		return err
	}
	return nil
}

func (r StoredRoute) marshal() []byte {
	out := make([]byte, 0, 2+len(r.Bus)+len(r.Addr))
	out = append(out, byte(len(r.Bus)))
	out = append(out, r.Bus...)
	out = append(out, byte(len(r.Addr)))
	out = append(out, r.Addr...)
	return out
}

func unmarshalRoute(eid byte, v []byte) (StoredRoute, error) {
	r := StoredRoute{EID: packet.EID(eid)}
	if len(v) < 1 || len(v) < 1+int(v[0]) {
		return r, errors.New("truncated bus name")
	}
	n := 1 + int(v[0])
	r.Bus = string(v[1:n])
	v = v[n:]
	if len(v) < 1 || len(v) != 1+int(v[0]) {
		return r, errors.New("truncated address")
	}
	r.Addr = string(v[1:])
	return r, nil
}

// Store persists routes in a BoltDB file
type Store struct {
	db *bbolt.DB
}

// OpenStore opens or creates the route store at path
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(routesBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %s", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Put stores r, replacing any route for the same EID
func (s *Store) Put(r StoredRoute) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if len(r.Bus) > 255 || len(r.Addr) > 255 {
		return fmt.Errorf("route for %s: bus name or address too long", r.EID)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(routesBucket).Put([]byte{byte(r.EID)}, r.marshal())
	})
}

// Get returns the stored route for eid
func (s *Store) Get(eid packet.EID) (StoredRoute, bool, error) {
	var r StoredRoute
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(routesBucket).Get([]byte{byte(eid)})
		if v == nil {
			return nil
		}
		found = true
		var err error
		r, err = unmarshalRoute(byte(eid), v)
		return err
	})
	return r, found, err
}

// Delete removes the stored route for eid
func (s *Store) Delete(eid packet.EID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(routesBucket).Delete([]byte{byte(eid)})
	})
}

// List returns every stored route in EID order
func (s *Store) List() ([]StoredRoute, error) {
	var routes []StoredRoute
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(routesBucket).ForEach(func(k, v []byte) error {
			if len(k) != 1 {
				return fmt.Errorf("invalid route key %x", k)
			}
			r, err := unmarshalRoute(k[0], v)
			if err != nil {
				return fmt.Errorf("route %d: %w", k[0], err)
			}
			routes = append(routes, r)
			return nil
		})
	})
	return routes, err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// BusResolver maps bus names to handles; binding.Set implements it
type BusResolver interface {
	Lookup(name string) (binding.BusHandle, bool)
}

// Apply loads routes into t. Routes on buses that are not present are
// skipped and returned in the skipped list. With replace set, existing
// routes are overwritten; otherwise conflicts fail with ErrRouteExists.
func Apply(t *Table, buses BusResolver, routes []StoredRoute, replace bool) (skipped []StoredRoute, err error) {
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return skipped, err
		}
		bus, ok := buses.Lookup(r.Bus)
		if !ok {
			skipped = append(skipped, r)
			continue
		}
		addr, _ := binding.ParsePhysAddr(r.Addr)

		switch {
		case r.IsDefault():
			err = t.SetDefault(bus, addr)
		case replace:
			err = t.Replace(r.EID, bus, addr)
		default:
			err = t.Register(r.EID, bus, addr)
		}
		if err != nil {
			return skipped, fmt.Errorf("route %s on %s: %w", r.EID, r.Bus, err)
		}
	}
	return skipped, nil
}
