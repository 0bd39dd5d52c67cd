package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 收集即時更新相關的統計指標
// 所有方法在 nil receiver 上呼叫時不做任何事，方便在測試中省略。
type Metrics struct {
	registry      *prometheus.Registry
	updates       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sessions      prometheus.Gauge
	published     prometheus.Counter
	synchronized  *prometheus.CounterVec
}

// New 建立一組註冊在獨立 registry 上的指標
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidwatch",
			Name:      "item_updates_total",
			Help:      "Item snapshots received by watch sessions, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidwatch",
			Name:      "notifications_total",
			Help:      "Notifications pushed to viewers, by kind.",
		}, []string{"kind"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bidwatch",
			Name:      "watch_sessions",
			Help:      "Currently open watch sessions.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bidwatch",
			Name:      "snapshots_published_total",
			Help:      "Item snapshots published to the update channel.",
		}),
		synchronized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidwatch",
			Name:      "snapshots_synchronized_total",
			Help:      "Item snapshots written to the database by the sync worker, by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		m.updates,
		m.notifications,
		m.sessions,
		m.published,
		m.synchronized,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler 返回輸出指標的 http.Handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回指標使用的 registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) UpdateHandled() {
	if m != nil {
		m.updates.WithLabelValues("handled").Inc()
	}
}

func (m *Metrics) UpdateIgnored() {
	if m != nil {
		m.updates.WithLabelValues("ignored").Inc()
	}
}

func (m *Metrics) UpdateStale() {
	if m != nil {
		m.updates.WithLabelValues("stale").Inc()
	}
}

func (m *Metrics) NotificationPushed(kind string) {
	if m != nil {
		m.notifications.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) SnapshotPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) SnapshotSynchronized(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.synchronized.WithLabelValues("ok").Inc()
	} else {
		m.synchronized.WithLabelValues("failed").Inc()
	}
}
