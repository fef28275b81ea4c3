// Package metrics implements Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/rawshake/internal/packet"
)

var (
	// PacketsSentTotal counts datagrams written to the raw channel by kind (syn, ack)
	PacketsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rawshake_packets_sent_total",
			Help: "Total number of packets sent on the raw channel",
		},
		[]string{"kind"},
	)

	// PacketsReceivedTotal counts datagrams read from the raw channel
	PacketsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rawshake_packets_received_total",
			Help: "Total number of packets received on the raw channel",
		},
	)

	// PacketsDiscardedTotal counts received datagrams that were not the expected SYN-ACK
	PacketsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rawshake_packets_discarded_total",
			Help: "Total number of received packets discarded while waiting for the SYN-ACK",
		},
		[]string{"reason"},
	)

	// ReceiveErrorsTotal counts failed reads other than deadline expiry
	ReceiveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rawshake_receive_errors_total",
			Help: "Total number of raw channel read errors",
		},
	)

	// HandshakeDurationSeconds measures the time from SYN to the final state
	HandshakeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rawshake_handshake_duration_seconds",
			Help:    "Duration of handshake attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
	)

	// HandshakeResultTotal counts finished handshakes by final state
	HandshakeResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rawshake_handshake_result_total",
			Help: "Total number of handshake attempts by final state",
		},
		[]string{"state"},
	)
)

// Recorder feeds handshake events into the package collectors.
type Recorder struct{}

func (Recorder) PacketSent(kind string) {
	PacketsSentTotal.WithLabelValues(kind).Inc()
}

func (Recorder) PacketReceived(reason packet.Reason) {
	PacketsReceivedTotal.Inc()
	if reason != packet.ReasonAccepted {
		PacketsDiscardedTotal.WithLabelValues(string(reason)).Inc()
	}
}

func (Recorder) ReceiveError() {
	ReceiveErrorsTotal.Inc()
}

func (Recorder) Finished(state string, elapsed time.Duration) {
	HandshakeResultTotal.WithLabelValues(state).Inc()
	HandshakeDurationSeconds.Observe(elapsed.Seconds())
}
