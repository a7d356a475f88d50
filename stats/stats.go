// Package stats publishes channel counters as Prometheus metrics
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package stats

import (
	"github.com/chanlab/remoting/channel"
	"github.com/chanlab/remoting/proto"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Tracker is a channel listener mirroring traffic counters into a
	// Prometheus registry; one Tracker serves any number of channels
	// (labeled by channel name)
	Tracker struct {
		sent     *prometheus.CounterVec
		received *prometheus.CounterVec
		sentB    *prometheus.CounterVec
		recvB    *prometheus.CounterVec
		closed   *prometheus.CounterVec
	}
)

// interface guards
var (
	_ channel.TrafficListener = (*Tracker)(nil)
)

func New(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remoting", Name: "commands_sent_total",
			Help: "Commands written to the wire",
		}, []string{"channel"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remoting", Name: "commands_received_total",
			Help: "Commands received from the wire",
		}, []string{"channel"}),
		sentB: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remoting", Name: "bytes_sent_total",
			Help: "Serialized command bytes written",
		}, []string{"channel"}),
		recvB: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remoting", Name: "bytes_received_total",
			Help: "Serialized command bytes received",
		}, []string{"channel"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remoting", Name: "channels_closed_total",
			Help: "Channel terminations, by kind",
		}, []string{"channel", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(t.sent, t.received, t.sentB, t.recvB, t.closed)
	}
	return t
}

func (t *Tracker) OnWrite(ch *channel.Channel, _ proto.Command, size int) {
	t.sent.WithLabelValues(ch.Name()).Inc()
	t.sentB.WithLabelValues(ch.Name()).Add(float64(size))
}

func (t *Tracker) OnRead(ch *channel.Channel, _ proto.Command, size int) {
	t.received.WithLabelValues(ch.Name()).Inc()
	t.recvB.WithLabelValues(ch.Name()).Add(float64(size))
}

func (t *Tracker) OnClosed(ch *channel.Channel, cause error) {
	kind := "orderly"
	if cause != nil {
		kind = "abrupt"
	}
	t.closed.WithLabelValues(ch.Name(), kind).Inc()
}
