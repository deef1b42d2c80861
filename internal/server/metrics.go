package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	messagesPosted  prometheus.Counter
	votesTotal      *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		messagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "board_messages_posted_total",
			Help: "Total number of messages accepted",
		}),
		votesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "board_votes_total",
			Help: "Total number of votes by outcome",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.requestsTotal, m.requestDuration, m.messagesPosted, m.votesTotal)
	return m
}

func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": strconv.Itoa(c.Writer.Status())}
		m.requestsTotal.With(labels).Inc()
		m.requestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

func (m *metrics) observeVote(applied bool) {
	outcome := "rejected"
	if applied {
		outcome = "applied"
	}
	m.votesTotal.WithLabelValues(outcome).Inc()
}
