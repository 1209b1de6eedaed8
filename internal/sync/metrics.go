package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfprogress_sync_runs_total",
		Help: "Sync runs by result (started, completed, error).",
	}, []string{"result"})

	studentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfprogress_sync_students_total",
		Help: "Per-student sync outcomes.",
	}, []string{"outcome"})

	lastRunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cfprogress_sync_last_run_duration_seconds",
		Help: "Duration of the most recent completed sync run.",
	})
)
