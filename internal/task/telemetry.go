package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resumate_task_queue_depth",
		Help: "Number of jobs waiting for a queue slot",
	})
	jobsRunningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resumate_task_jobs_running",
		Help: "Number of jobs currently running",
	}, []string{"task_type"})
	queueWaitTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resumate_task_queue_wait_seconds",
		Help:    "Time between enqueue and start of a job",
		Buckets: prometheus.DefBuckets,
	}, []string{"task_type"})
	taskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumate_task_outcomes_total",
		Help: "Total number of finished tasks by final status",
	}, []string{"task_type", "status"})
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resumate_task_duration_seconds",
		Help:    "Wall time of task runs from start to terminal status",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"task_type", "status"})
	jobPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumate_task_job_panics_total",
		Help: "Total number of recovered job panics",
	}, []string{"task_type"})
	orphansFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resumate_task_orphans_failed_total",
		Help: "Task records failed by startup cleanup or the stale-task reconciler",
	})
)
