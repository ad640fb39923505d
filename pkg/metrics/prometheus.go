package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes Counters as a prometheus.Collector, so a host process can
// register it alongside Endpoint.Metrics()'s in-process Snapshot. This is
// additive to the spec's metrics() operation, not a replacement for it.
type Collector struct {
	counters *Counters

	sentReliable     *prometheus.Desc
	sentUnreliable   *prometheus.Desc
	recvReliable     *prometheus.Desc
	recvUnreliable   *prometheus.Desc
	reliableAcksRecv *prometheus.Desc
	retransmissions  *prometheus.Desc
	lostMarked       *prometheus.Desc
	sentReg          *prometheus.Desc
	recvReg          *prometheus.Desc
	regAcksRecv      *prometheus.Desc
	registrations    *prometheus.Desc
	invalidPackets   *prometheus.Desc
}

// NewCollector builds a Collector over counters, tagging every metric with
// constLabels (typically the local bind address).
func NewCollector(counters *Counters, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("hudp_"+name, help, nil, constLabels)
	}
	return &Collector{
		counters:         counters,
		sentReliable:     desc("sent_reliable_total", "Reliable-channel datagrams sent."),
		sentUnreliable:   desc("sent_unreliable_total", "Unreliable-channel datagrams sent."),
		recvReliable:     desc("recv_reliable_total", "Reliable-channel payloads delivered to the callback."),
		recvUnreliable:   desc("recv_unreliable_total", "Unreliable-channel payloads delivered to the callback."),
		reliableAcksRecv: desc("reliable_acks_recv_total", "ACKs received for reliable sends."),
		retransmissions:  desc("retransmissions_total", "In-flight entries retransmitted."),
		lostMarked:       desc("lost_marked_total", "Skip events recorded by sender or receiver."),
		sentReg:          desc("sent_reg_total", "REGISTER frames sent."),
		recvReg:          desc("recv_reg_total", "REGISTER frames received."),
		regAcksRecv:      desc("reg_acks_recv_total", "ACKs received for REGISTER frames."),
		registrations:    desc("registrations_total", "Peers added to the registered set."),
		invalidPackets:   desc("invalid_packets_total", "Datagrams dropped for failing to parse."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentReliable
	ch <- c.sentUnreliable
	ch <- c.recvReliable
	ch <- c.recvUnreliable
	ch <- c.reliableAcksRecv
	ch <- c.retransmissions
	ch <- c.lostMarked
	ch <- c.sentReg
	ch <- c.recvReg
	ch <- c.regAcksRecv
	ch <- c.registrations
	ch <- c.invalidPackets
}

// Collect implements prometheus.Collector, reading a fresh Snapshot each call.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.counters.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.sentReliable, prometheus.CounterValue, float64(s.SentReliable))
	ch <- prometheus.MustNewConstMetric(c.sentUnreliable, prometheus.CounterValue, float64(s.SentUnreliable))
	ch <- prometheus.MustNewConstMetric(c.recvReliable, prometheus.CounterValue, float64(s.RecvReliable))
	ch <- prometheus.MustNewConstMetric(c.recvUnreliable, prometheus.CounterValue, float64(s.RecvUnreliable))
	ch <- prometheus.MustNewConstMetric(c.reliableAcksRecv, prometheus.CounterValue, float64(s.ReliableAcksRecv))
	ch <- prometheus.MustNewConstMetric(c.retransmissions, prometheus.CounterValue, float64(s.Retransmissions))
	ch <- prometheus.MustNewConstMetric(c.lostMarked, prometheus.CounterValue, float64(s.LostMarked))
	ch <- prometheus.MustNewConstMetric(c.sentReg, prometheus.CounterValue, float64(s.SentReg))
	ch <- prometheus.MustNewConstMetric(c.recvReg, prometheus.CounterValue, float64(s.RecvReg))
	ch <- prometheus.MustNewConstMetric(c.regAcksRecv, prometheus.CounterValue, float64(s.RegAcksRecv))
	ch <- prometheus.MustNewConstMetric(c.registrations, prometheus.CounterValue, float64(s.Registrations))
	ch <- prometheus.MustNewConstMetric(c.invalidPackets, prometheus.CounterValue, float64(s.InvalidPackets))
}

var _ prometheus.Collector = (*Collector)(nil)
