package http

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the service counters. It satisfies the observer
// interfaces of the session, spotify, control and input packages.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	AuthTotal        *prometheus.CounterVec
	APICallsTotal    *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec
	InputEventsTotal *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotiknob_requests_total",
				Help: "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		AuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotiknob_auth_total",
				Help: "Total number of session operations by outcome",
			},
			[]string{"op", "result"},
		),
		APICallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotiknob_api_calls_total",
				Help: "Total number of Spotify Web API calls by outcome",
			},
			[]string{"call", "result"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotiknob_actions_total",
				Help: "Total number of control actions by outcome",
			},
			[]string{"action", "result"},
		),
		InputEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spotiknob_input_events_total",
				Help: "Total number of hardware input events",
			},
			[]string{"action"},
		),
	}

	for _, collector := range []prometheus.Collector{
		metrics.RequestsTotal,
		metrics.AuthTotal,
		metrics.APICallsTotal,
		metrics.ActionsTotal,
		metrics.InputEventsTotal,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) RecordRequest(route string, status int) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveAuth(op, result string) {
	m.AuthTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveAPICall(call, result string) {
	m.APICallsTotal.WithLabelValues(call, result).Inc()
}

func (m *Metrics) ObserveAction(action, result string) {
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveInput(action string) {
	m.InputEventsTotal.WithLabelValues(action).Inc()
}
