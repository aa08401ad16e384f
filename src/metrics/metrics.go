package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imghost_uploads_total",
			Help: "Number of upload attempts",
		},
		[]string{"result"},
	)

	JobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imghost_thumbnail_jobs_dispatched_total",
			Help: "Number of thumbnail jobs handed to the queue",
		},
		[]string{"result"},
	)

	Thumbnails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imghost_thumbnails_total",
			Help: "Number of thumbnail sizes processed",
		},
		[]string{"result"},
	)

	JobLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "imghost_thumbnail_job_seconds",
			Help: "Time spent on one thumbnail job",
			Buckets: []float64{
				(50 * time.Millisecond).Seconds(),
				(200 * time.Millisecond).Seconds(),
				(500 * time.Millisecond).Seconds(),
				(1 * time.Second).Seconds(),
				(5 * time.Second).Seconds(),
				(20 * time.Second).Seconds(),
			},
		},
	)

	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imghost_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	Links = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imghost_expiration_links_total",
			Help: "Expiration link operations",
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(Uploads, JobsDispatched, Thumbnails, JobLatency, Links, Requests)
}
