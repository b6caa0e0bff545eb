package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemLedger   = "ledger"
	SystemNotifier = "notifier"
	SystemRelay    = "relay"
)

const (
	MetricLedgerTransactions       = "transactions_total"
	MetricLedgerRejections         = "rejections_total"
	MetricLedgerReplays            = "replays_total"
	MetricLedgerConflicts          = "idempotency_conflicts_total"
	MetricLedgerSecondaryFailures  = "secondary_write_failures_total"
	MetricLedgerExecuteDuration    = "execute_duration_seconds"
	MetricNotifierFailures         = "failures_total"
	MetricNotifierBacklog          = "backlog"
	MetricRelayJobs                = "jobs_total"
	MetricRelayEmailDeliveredTotal = "email_delivered_total"
	MetricRelayQueueDepth          = "queue_depth"
)

// executeBuckets covers a single-row ledger write up to a lock wait that is
// about to trip the request timeout.
var executeBuckets = []float64{.002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers every ledger, notifier and relay metric. It must run once
// per process before the first Inc/Observe call; until then those are no-ops.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemLedger, MetricLedgerTransactions, "Committed ledger transactions.", "kind"))
	hasError(createCounterVec(SystemLedger, MetricLedgerRejections, "Requests rejected by a business rule.", "code"))
	hasError(createCounterVec(SystemLedger, MetricLedgerReplays, "Requests answered from an earlier commit.", "kind"))
	hasError(createCounter(SystemLedger, MetricLedgerConflicts, "Keys reused for a different entry."))
	hasError(createCounterVec(SystemLedger, MetricLedgerSecondaryFailures, "Post-commit writes that failed.", "write"))
	hasError(createHistogramVec(SystemLedger, MetricLedgerExecuteDuration, "Executor latency.", executeBuckets, "outcome"))
	hasError(createCounterVec(SystemNotifier, MetricNotifierFailures, "Notification sink failures.", "sink"))
	hasError(createGaugeVec(SystemNotifier, MetricNotifierBacklog, "Notifications buffered for async delivery.", "mode"))
	hasError(createCounterVec(SystemRelay, MetricRelayJobs, "Outbox jobs handled by the relay.", "status"))
	hasError(createCounter(SystemRelay, MetricRelayEmailDeliveredTotal, "Emails accepted by a provider."))
	hasError(createGaugeVec(SystemRelay, MetricRelayQueueDepth, "Outbox stream depth.", "state"))

	return err
}

// Handler exposes the default registry on a fasthttp route.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}

func createCounter(subsystem, name, help string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	})
	return register(MetricCollectionCounters[subsystem+name])
}

func createCounterVec(subsystem, name, help string, labels ...string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	}, labels)
	return register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name, help string, buckets []float64, labels ...string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
		Buckets:     buckets,
	}, labels)
	return register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name, help string, labels ...string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	}, labels)
	return register(MetricCollectionGaugeVec[subsystem+name])
}

// register tolerates a second Create in the same process, as tests do.
func register(c prometheus.Collector) error {
	err := prometheus.Register(c)
	if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return nil
	}
	return err
}

func IncCounter(subsystem, name string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounters[subsystem+name]; ok {
		v.Inc()
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Inc()
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, value float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(value)
		return
	}
	logger.Warn("[metrics-server] gauge vec not found", "subsystem", subsystem, "name", name)
}

func ObserveHistogramVec(subsystem, name string, value float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(value)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func IncTransaction(kind string) {
	IncCounterVec(SystemLedger, MetricLedgerTransactions, kind)
}

func IncRejection(code string) {
	IncCounterVec(SystemLedger, MetricLedgerRejections, code)
}

func IncReplay(kind string) {
	IncCounterVec(SystemLedger, MetricLedgerReplays, kind)
}

func IncIdempotencyConflict() {
	IncCounter(SystemLedger, MetricLedgerConflicts)
}

func IncSecondaryWriteFailure(write string) {
	IncCounterVec(SystemLedger, MetricLedgerSecondaryFailures, write)
}

func ObserveExecute(seconds float64, outcome string) {
	ObserveHistogramVec(SystemLedger, MetricLedgerExecuteDuration, seconds, outcome)
}

func IncNotifierFailure(sink string) {
	IncCounterVec(SystemNotifier, MetricNotifierFailures, sink)
}

func SetNotifierBacklog(n int64) {
	SetGaugeVec(SystemNotifier, MetricNotifierBacklog, float64(n), "async")
}

func IncRelayJob(status string) {
	IncCounterVec(SystemRelay, MetricRelayJobs, status)
}

func IncEmailDelivered() {
	IncCounter(SystemRelay, MetricRelayEmailDeliveredTotal)
}

func SetQueueDepth(pending, deadLetters int64) {
	SetGaugeVec(SystemRelay, MetricRelayQueueDepth, float64(pending), "pending")
	SetGaugeVec(SystemRelay, MetricRelayQueueDepth, float64(deadLetters), "dead_letter")
}
