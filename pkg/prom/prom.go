package prom

import (
	"sync"
	"time"

	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemApplications = "application"
	SystemDonations    = "donation"
	SystemSettlement   = "settlement"
	SystemGateway      = "gateway"
)

const (
	MetricApplicationTransitions = "transitions_total"
	MetricDonationOrders         = "orders_total"
	MetricDonationAttributed     = "attributed_cents_total"
	MetricSettlementOutcomes     = "outcomes_total"
	MetricSettlementPollAttempts = "poll_attempts"
	MetricGatewayRequests        = "provider_requests_total"
	MetricGatewayLatency         = "provider_latency_seconds"
	MetricSettlementQueue        = "queue_messages"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogram = make(map[string]prometheus.Histogram)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// pollAttemptBuckets covers one to thirty polls of a settlement task.
var pollAttemptBuckets = []float64{1, 2, 3, 5, 10, 15, 20, 25, 30}

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

	hasError(createCounterVec(SystemApplications, MetricApplicationTransitions, []string{"to"}))
	hasError(createCounterVec(SystemDonations, MetricDonationOrders, []string{"method", "donor_kind"}))
	hasError(createCounter(SystemDonations, MetricDonationAttributed))
	hasError(createCounterVec(SystemSettlement, MetricSettlementOutcomes, []string{"outcome"}))
	hasError(createHistogramBuckets(SystemSettlement, MetricSettlementPollAttempts, pollAttemptBuckets))
	hasError(createCounterVec(SystemGateway, MetricGatewayRequests, []string{"provider", "result"}))
	hasError(createHistogramVec(SystemGateway, MetricGatewayLatency, []string{"provider"}))
	hasError(createGaugeVec(SystemSettlement, MetricSettlementQueue, []string{"kind"}))

	return err
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounter(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	})
	return prometheus.Register(MetricCollectionCounters[subsystem+name])
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramBuckets(subsystem, name string, buckets []float64) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogram[subsystem+name] = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
		Buckets:     buckets,
	})
	return prometheus.Register(MetricCollectionHistogram[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()

	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func AddCounter(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogram(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogram[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

// Domain shortcuts. All of them are no-ops until Create has been called, so
// services and tests can call them unconditionally.

func IncApplicationTransition(to string) {
	IncCounterVec(SystemApplications, MetricApplicationTransitions, to)
}

func IncDonationOrder(method, donorKind string) {
	IncCounterVec(SystemDonations, MetricDonationOrders, method, donorKind)
}

func AddAttributedCents(cents int64) {
	AddCounter(SystemDonations, MetricDonationAttributed, float64(cents))
}

func ObserveSettlement(outcome string, attempts int) {
	IncCounterVec(SystemSettlement, MetricSettlementOutcomes, outcome)
	AddHistogram(SystemSettlement, MetricSettlementPollAttempts, float64(attempts))
}

func IncGatewayRequest(provider, result string) {
	IncCounterVec(SystemGateway, MetricGatewayRequests, provider, result)
}

func ObserveGatewayLatency(provider string, latency time.Duration) {
	AddHistogramVec(SystemGateway, MetricGatewayLatency, latency.Seconds(), provider)
}

// SetSettlementQueue records the settlement stream depth by kind: total,
// pending or dead.
func SetSettlementQueue(kind string, n int64) {
	SetGaugeVec(SystemSettlement, MetricSettlementQueue, float64(n), kind)
}
