// Package metrics exposes the state of the autoscaler to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/gammadia/tca/jobqueue"
	"github.com/gammadia/tca/nodegroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "tca"

	subsystemQueue     = "queue"
	subsystemJob       = "job"
	subsystemCache     = "cache"
	subsystemNodeGroup = "nodegroup"

	kindLabel      = "kind"
	outcomeLabel   = "outcome"
	stateLabel     = "state"
	nodeGroupLabel = "nodegroup"
)

type metricInfo struct {
	Desc *prometheus.Desc
	Type prometheus.ValueType
}

func newMetricInfo(subsystem, name, help string, valueType prometheus.ValueType, labels ...string) metricInfo {
	return metricInfo{
		Desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil),
		Type: valueType,
	}
}

// Collector reports the queue, cache and node group state on every scrape.
type Collector struct {
	queue    *jobqueue.Queue
	cache    *nodegroup.Cache
	registry *nodegroup.Registry

	queueLength  metricInfo
	queueBusy    metricInfo
	instances    metricInfo
	cacheAge     metricInfo
	groupMaxSize metricInfo
	groupMinSize metricInfo
	groupCurrent metricInfo
}

// Collector implements prometheus.Collector
var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(queue *jobqueue.Queue, cache *nodegroup.Cache, registry *nodegroup.Registry) *Collector {
	return &Collector{
		queue:    queue,
		cache:    cache,
		registry: registry,

		queueLength:  newMetricInfo(subsystemQueue, "pending_jobs", "Number of jobs waiting to run", prometheus.GaugeValue),
		queueBusy:    newMetricInfo(subsystemQueue, "busy", "Whether a job is currently running", prometheus.GaugeValue),
		instances:    newMetricInfo(subsystemCache, "instances", "Cached instances by state", prometheus.GaugeValue, stateLabel),
		cacheAge:     newMetricInfo(subsystemCache, "age_seconds", "Time since the instance cache was last refreshed", prometheus.GaugeValue),
		groupMaxSize: newMetricInfo(subsystemNodeGroup, "max_size", "Maximum size of the node group", prometheus.GaugeValue, nodeGroupLabel),
		groupMinSize: newMetricInfo(subsystemNodeGroup, "min_size", "Minimum size of the node group", prometheus.GaugeValue, nodeGroupLabel),
		groupCurrent: newMetricInfo(subsystemNodeGroup, "instances", "Cached instances of the node group", prometheus.GaugeValue, nodeGroupLabel),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range []metricInfo{c.queueLength, c.queueBusy, c.instances, c.cacheAge, c.groupMaxSize, c.groupMinSize, c.groupCurrent} {
		ch <- metric.Desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.queueLength.Desc, c.queueLength.Type, float64(c.queue.Len()))
	ch <- prometheus.MustNewConstMetric(c.queueBusy.Desc, c.queueBusy.Type, boolToFloat(c.queue.Busy()))

	counts := c.cache.CountByState()
	for _, state := range []nodegroup.State{nodegroup.StateUnspecified, nodegroup.StateRunning, nodegroup.StateCreating, nodegroup.StateDeleting} {
		ch <- prometheus.MustNewConstMetric(c.instances.Desc, c.instances.Type, float64(counts[state]), state.String())
	}

	if refreshedAt := c.cache.RefreshedAt(); !refreshedAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.cacheAge.Desc, c.cacheAge.Type, time.Since(refreshedAt).Seconds())
	}

	for _, group := range c.registry.Groups() {
		ch <- prometheus.MustNewConstMetric(c.groupMaxSize.Desc, c.groupMaxSize.Type, float64(group.MaxSize()), group.ID())
		ch <- prometheus.MustNewConstMetric(c.groupMinSize.Desc, c.groupMinSize.Type, float64(group.MinSize()), group.ID())
		ch <- prometheus.MustNewConstMetric(c.groupCurrent.Desc, c.groupCurrent.Type, float64(len(c.registry.Instances(group, c.cache))), group.ID())
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// JobObserver records job outcomes and durations.
type JobObserver struct {
	jobs    *prometheus.CounterVec
	waiting *prometheus.HistogramVec
	running *prometheus.HistogramVec
}

// JobObserver implements jobqueue.Observer
var _ jobqueue.Observer = (*JobObserver)(nil)

func NewJobObserver() *JobObserver {
	buckets := prometheus.ExponentialBuckets(1, 2, 12)

	return &JobObserver{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "total",
			Help:      "Jobs run, by kind and outcome",
		}, []string{kindLabel, outcomeLabel}),
		waiting: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "wait_seconds",
			Help:      "Time jobs spent queued before running",
			Buckets:   buckets,
		}, []string{kindLabel}),
		running: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "run_seconds",
			Help:      "Time jobs spent running",
			Buckets:   buckets,
		}, []string{kindLabel}),
	}
}

func (o *JobObserver) ObserveJob(kind string, waited, ran time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	o.jobs.WithLabelValues(kind, outcome).Inc()
	o.waiting.WithLabelValues(kind).Observe(waited.Seconds())
	o.running.WithLabelValues(kind).Observe(ran.Seconds())
}

func (o *JobObserver) Describe(ch chan<- *prometheus.Desc) {
	o.jobs.Describe(ch)
	o.waiting.Describe(ch)
	o.running.Describe(ch)
}

func (o *JobObserver) Collect(ch chan<- prometheus.Metric) {
	o.jobs.Collect(ch)
	o.waiting.Collect(ch)
	o.running.Collect(ch)
}

// Handler serves the collectors in the Prometheus text format, along with the
// Go runtime and process metrics.
func Handler(cs ...prometheus.Collector) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	cs = append(cs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, collector := range cs {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
