package otel

import (
	"context"
	"errors"
	"fmt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Errors returned by the exporter constructors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	auditDroppedName = "gosession_audit_dropped_total"
	sessionStateName = "gosession_session_state"
)

type metricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	AuditDropped() uint64
}

// stateSource is satisfied by *goSession.Manager. Sources without it skip
// the session state gauge.
type stateSource interface {
	State() goSession.SessionState
}

var sessionStates = []goSession.SessionState{
	goSession.StateUnauthenticated,
	goSession.StateAuthenticated,
	goSession.StatePendingTwoFactor,
}

type latencyInstruments struct {
	id      goSession.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	bounds  []metric.ObserveOption
}

// OTelExporter observes a manager on every collection cycle. Latency buckets
// share one gauge keyed by the "le" attribute.
type OTelExporter struct {
	source       metricsSource
	states       stateSource
	registration metric.Registration

	counters     map[goSession.MetricID]metric.Int64ObservableCounter
	latency      []latencyInstruments
	auditDropped metric.Int64ObservableCounter
	state        metric.Int64ObservableGauge
	stateAttrs   []metric.ObserveOption
}

// NewOTelExporter registers observable instruments for m on meter. The
// caller closes the exporter before closing m.
func NewOTelExporter(meter metric.Meter, m *goSession.Manager) (*OTelExporter, error) {
	if m == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, m)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[goSession.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	e.states, _ = source.(stateSource)

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		li := latencyInstruments{id: def.ID}
		var err error
		li.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{request}"))
		if err != nil {
			return nil, fmt.Errorf("bucket gauge %s: %w", def.Name, err)
		}
		li.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{request}"))
		if err != nil {
			return nil, fmt.Errorf("count gauge %s: %w", def.Name, err)
		}
		for _, le := range internaldefs.HistogramBounds {
			li.bounds = append(li.bounds, metric.WithAttributes(attribute.String("le", le)))
		}
		e.latency = append(e.latency, li)
		observables = append(observables, li.buckets, li.count)
	}

	var err error
	e.auditDropped, err = meter.Int64ObservableCounter(auditDroppedName,
		metric.WithDescription("Audit events lost to a full dispatcher queue or a cancelled caller."))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", auditDroppedName, err)
	}
	observables = append(observables, e.auditDropped)

	if e.states != nil {
		e.state, err = meter.Int64ObservableGauge(sessionStateName,
			metric.WithDescription("1 for the tab's current session state, 0 otherwise."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s: %w", sessionStateName, err)
		}
		for _, st := range sessionStates {
			e.stateAttrs = append(e.stateAttrs, metric.WithAttributes(attribute.String("state", st.String())))
		}
		observables = append(observables, e.state)
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snap.Counters[id]))
	}

	for _, li := range e.latency {
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[li.id]))
		for i, opt := range li.bounds {
			o.ObserveInt64(li.buckets, int64(cum[i]), opt)
		}
		o.ObserveInt64(li.count, int64(cum[len(cum)-1]))
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	if e.states != nil {
		current := e.states.State()
		for i, st := range sessionStates {
			var v int64
			if st == current {
				v = 1
			}
			o.ObserveInt64(e.state, v, e.stateAttrs[i])
		}
	}
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
