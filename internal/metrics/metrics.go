package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StatusSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "status_submissions_total",
		Help:      "Exam status submission attempts by outcome.",
	}, []string{"outcome"})

	PendingSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "pending_submissions_total",
		Help:      "Pending status submissions queued, recovered or still failing.",
	}, []string{"event"})

	ExamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "exam_attempts_total",
		Help:      "Finished exam attempts by result.",
	}, []string{"result"})

	TenantLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "tenant_lookups_total",
		Help:      "School directory lookups by cache result.",
	}, []string{"cache"})

	LiveAttempts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "exam_live_attempts",
		Help:      "Exam attempts currently held in memory.",
	})
)
