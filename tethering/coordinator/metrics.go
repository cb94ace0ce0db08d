package coordinator

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tether_offload"

var (
	rxBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rx_bytes_total"),
		"Bytes received on an upstream and forwarded by the offload programs.",
		[]string{"ifindex"}, nil,
	)
	rxPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rx_packets_total"),
		"Packets received on an upstream and forwarded by the offload programs.",
		[]string{"ifindex"}, nil,
	)
	rxErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rx_errors_total"),
		"Packets received on an upstream that the offload programs failed to forward.",
		[]string{"ifindex"}, nil,
	)
	txBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "tx_bytes_total"),
		"Bytes forwarded to an upstream by the offload programs.",
		[]string{"ifindex"}, nil,
	)
	txPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "tx_packets_total"),
		"Packets forwarded to an upstream by the offload programs.",
		[]string{"ifindex"}, nil,
	)
	txErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "tx_errors_total"),
		"Packets bound for an upstream that the offload programs failed to forward.",
		[]string{"ifindex"}, nil,
	)
	errorCounterDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "errors_total"),
		"Packets the offload programs passed to the stack, by reason.",
		[]string{"counter"}, nil,
	)
)

// Collector exports offload statistics to prometheus. Values are read from
// the coordinator on every scrape.
type Collector struct {
	c *Coordinator
}

// NewCollector returns a Collector reading from c.
func NewCollector(c *Coordinator) *Collector {
	return &Collector{c: c}
}

func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rxBytesDesc
	ch <- rxPacketsDesc
	ch <- rxErrorsDesc
	ch <- txBytesDesc
	ch <- txPacketsDesc
	ch <- txErrorsDesc
	ch <- errorCounterDesc
}

func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := col.c.TetherOffloadGetStats()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(rxBytesDesc, err)
		return
	}

	for ifindex, s := range stats {
		label := strconv.FormatUint(uint64(ifindex), 10)

		ch <- prometheus.MustNewConstMetric(rxBytesDesc, prometheus.CounterValue, float64(s.RxBytes), label)
		ch <- prometheus.MustNewConstMetric(rxPacketsDesc, prometheus.CounterValue, float64(s.RxPackets), label)
		ch <- prometheus.MustNewConstMetric(rxErrorsDesc, prometheus.CounterValue, float64(s.RxErrors), label)
		ch <- prometheus.MustNewConstMetric(txBytesDesc, prometheus.CounterValue, float64(s.TxBytes), label)
		ch <- prometheus.MustNewConstMetric(txPacketsDesc, prometheus.CounterValue, float64(s.TxPackets), label)
		ch <- prometheus.MustNewConstMetric(txErrorsDesc, prometheus.CounterValue, float64(s.TxErrors), label)
	}

	counters, err := col.c.ErrorCounters()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(errorCounterDesc, err)
		return
	}

	for name, n := range counters {
		ch <- prometheus.MustNewConstMetric(errorCounterDesc, prometheus.CounterValue, float64(n), name)
	}
}
