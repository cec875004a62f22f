package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/internal/logger"
	"avaneesh/mctp-go/pkg/packet"
	"avaneesh/mctp-go/pkg/router"
)

func newTestRouter(t *testing.T) (*router.Router, *binding.Set, *binding.Loopback) {
	t.Helper()
	set, err := binding.NewSet(2)
	require.NoError(t, err)
	t.Cleanup(func() { set.Close() })

	local, peer := binding.NewLoopbackPair(8, 256)
	bus, err := set.Add("lo0", local)
	require.NoError(t, err)

	cfg := router.DefaultConfig()
	cfg.LocalEID = 8
	r, err := router.New(cfg, set)
	require.NoError(t, err)
	require.NoError(t, r.Routes().Register(9, bus, binding.PhysAddr{}))
	return r, set, peer
}

// value finds the sample of name whose labels match
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestCollector(t *testing.T) {
	r, set, _ := newTestRouter(t)

	msg := make([]byte, 100)
	require.NoError(t, r.Send(9, packet.OwnedTag(0), msg))
	require.NoError(t, r.Inbound(0, []byte{0x01}))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(r, set)))

	assert.Equal(t, 2.0, value(t, reg, "mctp_router_packets_total", map[string]string{"direction": "tx"}))
	assert.Equal(t, 1.0, value(t, reg, "mctp_router_packets_total", map[string]string{"direction": "rx"}))
	assert.Equal(t, 1.0, value(t, reg, "mctp_router_messages_total", map[string]string{"result": "sent"}))
	assert.Equal(t, 1.0, value(t, reg, "mctp_router_drops_total", map[string]string{"reason": "decode"}))
	assert.Equal(t, 8.0, value(t, reg, "mctp_router_local_eid", nil))
	assert.Equal(t, 1.0, value(t, reg, "mctp_routing_routes", nil))
	assert.Equal(t, 0.0, value(t, reg, "mctp_reassembly_active_contexts", nil))
	assert.Equal(t, 16.0, value(t, reg, "mctp_reassembly_capacity", nil))
	assert.Equal(t, 2.0, value(t, reg, "mctp_link_packets_total", map[string]string{"bus": "lo0", "direction": "tx"}))
}

func TestCollectorWithoutLinks(t *testing.T) {
	r, _, _ := newTestRouter(t)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(r, nil)))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotContains(t, f.GetName(), "mctp_link_")
	}
}

func TestServer(t *testing.T) {
	r, set, _ := newTestRouter(t)

	s, err := NewServer("127.0.0.1:0", "/metrics", logger.NewNoOpLogger(), NewCollector(r, set))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mctp_router_packets_total")
	assert.Contains(t, string(body), `mctp_link_bytes_total{bus="lo0",direction="rx"}`)
	assert.Contains(t, string(body), "go_goroutines")
}
