// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/router"
)

const namespace = "mctp"

// LinkSource lists attached links; binding.Set implements it
type LinkSource interface {
	Buses() []binding.BusHandle
	Name(h binding.BusHandle) string
	Link(h binding.BusHandle) (binding.Link, error)
}

var (
	routerPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "router", "packets_total"),
		"Packets handled by the router",
		[]string{"direction"}, nil,
	)
	routerMessagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "router", "messages_total"),
		"Messages handled by the router by result",
		[]string{"result"}, nil,
	)
	routerDropsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "router", "drops_total"),
		"Packets or messages dropped by the router by reason",
		[]string{"reason"}, nil,
	)
	routerEIDDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "router", "local_eid"),
		"Local endpoint ID (0 = unassigned)",
		nil, nil,
	)
	routesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "routing", "routes"),
		"Routes in the routing table",
		nil, nil,
	)
	reassemblyActiveDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "reassembly", "active_contexts"),
		"Reassembly contexts currently in use",
		nil, nil,
	)
	reassemblyCapacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "reassembly", "capacity"),
		"Reassembly contexts available",
		nil, nil,
	)
	reassemblyEventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "reassembly", "events_total"),
		"Reassembly table events",
		[]string{"event"}, nil,
	)
	linkBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "bytes_total"),
		"Bytes carried by a link",
		[]string{"bus", "direction"}, nil,
	)
	linkPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "packets_total"),
		"Packets carried by a link",
		[]string{"bus", "direction"}, nil,
	)
	linkErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "errors_total"),
		"Link errors by operation",
		[]string{"bus", "op"}, nil,
	)
	linkOverrunsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "overruns_total"),
		"Packets dropped because the link receive queue was full",
		[]string{"bus"}, nil,
	)
	linkConnectionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "link", "connection_events_total"),
		"Connection events on connection oriented links",
		[]string{"bus", "event"}, nil,
	)
)

// Collector exposes router, reassembly and link statistics.
// Values are read from the live counters on every scrape.
type Collector struct {
	router *router.Router
	links  LinkSource
}

// NewCollector creates a collector; links may be nil
func NewCollector(r *router.Router, links LinkSource) *Collector {
	return &Collector{router: r, links: links}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- routerPacketsDesc
	ch <- routerMessagesDesc
	ch <- routerDropsDesc
	ch <- routerEIDDesc
	ch <- routesDesc
	ch <- reassemblyActiveDesc
	ch <- reassemblyCapacityDesc
	ch <- reassemblyEventsDesc
	ch <- linkBytesDesc
	ch <- linkPacketsDesc
	ch <- linkErrorsDesc
	ch <- linkOverrunsDesc
	ch <- linkConnectionsDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectRouter(ch)
	c.collectReassembly(ch)
	c.collectLinks(ch)
}

func counter(ch chan<- prometheus.Metric, desc *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
}

func gauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
}

func (c *Collector) collectRouter(ch chan<- prometheus.Metric) {
	s := c.router.Statistics().Snapshot()

	counter(ch, routerPacketsDesc, s.RxPackets, "rx")
	counter(ch, routerPacketsDesc, s.TxPackets, "tx")

	counter(ch, routerMessagesDesc, s.Delivered, "delivered")
	counter(ch, routerMessagesDesc, s.Bridged, "bridged")
	counter(ch, routerMessagesDesc, s.TxMessages, "sent")
	counter(ch, routerMessagesDesc, s.SendFailures, "send_failed")
	counter(ch, routerMessagesDesc, s.NotLocal, "not_local")
	counter(ch, routerMessagesDesc, s.BridgeLoops, "bridge_loop")
	counter(ch, routerMessagesDesc, s.NoHandler, "no_handler")
	counter(ch, routerMessagesDesc, s.TagTimeouts, "tag_timeout")

	counter(ch, routerDropsDesc, s.DecodeErrors, "decode")
	counter(ch, routerDropsDesc, s.RecvErrors, "recv_error")
	counter(ch, routerDropsDesc, s.TableFull, "table_full")
	counter(ch, routerDropsDesc, s.SequenceErrors, "sequence")
	counter(ch, routerDropsDesc, s.Overflows, "overflow")
	counter(ch, routerDropsDesc, s.Timeouts, "timeout")
	counter(ch, routerDropsDesc, s.Busy, "busy")

	gauge(ch, routerEIDDesc, float64(c.router.EID()))

	// A busy table skips the sample for this scrape
	if n, err := c.router.Routes().Count(); err == nil {
		gauge(ch, routesDesc, float64(n))
	}
}

func (c *Collector) collectReassembly(ch chan<- prometheus.Metric) {
	tbl := c.router.Reassembly()
	s := tbl.Statistics().Snapshot()

	if n, err := tbl.Active(); err == nil {
		gauge(ch, reassemblyActiveDesc, float64(n))
	}
	gauge(ch, reassemblyCapacityDesc, float64(tbl.Capacity()))

	counter(ch, reassemblyEventsDesc, s.Packets, "packet")
	counter(ch, reassemblyEventsDesc, s.Completed, "completed")
	counter(ch, reassemblyEventsDesc, s.Restarts, "restart")
	counter(ch, reassemblyEventsDesc, s.Ignored, "ignored")
}

func (c *Collector) collectLinks(ch chan<- prometheus.Metric) {
	if c.links == nil {
		return
	}
	for _, h := range c.links.Buses() {
		link, err := c.links.Link(h)
		if err != nil {
			continue
		}
		bus := c.links.Name(h)
		s := link.Statistics()

		counter(ch, linkBytesDesc, s.BytesSent, bus, "tx")
		counter(ch, linkBytesDesc, s.BytesReceived, bus, "rx")
		counter(ch, linkPacketsDesc, s.PacketsSent, bus, "tx")
		counter(ch, linkPacketsDesc, s.PacketsReceived, bus, "rx")
		counter(ch, linkErrorsDesc, s.WriteErrors, bus, "write")
		counter(ch, linkErrorsDesc, s.ReadErrors, bus, "read")
		counter(ch, linkOverrunsDesc, s.Overruns, bus)
		counter(ch, linkConnectionsDesc, s.Connects, bus, "connect")
		counter(ch, linkConnectionsDesc, s.Disconnects, bus, "disconnect")
	}
}
