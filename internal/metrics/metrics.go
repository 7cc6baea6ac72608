package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts requests served by the master's status API.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cw_http_requests_total",
			Help: "Total number of http requests handled by the master status API.",
		},
		[]string{"path", "method", "code"},
	)

	// MasterMessagesTotal counts messages received by the master, by tag.
	MasterMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cw_master_messages_total",
			Help: "Total number of protocol messages received by the master.",
		},
		[]string{"tag"},
	)

	// TasksDispatchedTotal counts tasks sent to workers.
	TasksDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cw_master_tasks_dispatched_total",
			Help: "Total number of tasks sent to a worker.",
		},
	)

	// DroppedTotal counts work dropped because a peer went away.
	// reason is one of client_gone_queued, client_gone_result, unknown_job.
	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cw_master_dropped_total",
			Help: "Total number of tasks or results dropped by the master.",
		},
		[]string{"reason"},
	)

	// QueuedTasks, IdleWorkers, ActiveTasks and Connections mirror the
	// master's matching state.
	QueuedTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cw_master_queued_tasks",
		Help: "Number of tasks waiting for a worker.",
	})
	IdleWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cw_master_idle_workers",
		Help: "Number of workers waiting for a task.",
	})
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cw_master_active_tasks",
		Help: "Number of tasks currently assigned to a worker.",
	})
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cw_master_connections",
		Help: "Number of live connections to the master.",
	})

	// JobExecutionTotal counts job executions on workers.
	JobExecutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cw_job_executions_total",
			Help: "Total number of job executions on this worker.",
		},
		[]string{"func", "status"}, // status is success or failed
	)

	// JobExecutionSeconds observes how long job bodies run.
	JobExecutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cw_job_execution_seconds",
			Help:    "Duration of job executions on this worker.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"func"},
	)

	// IsLeader marks whether this master holds the etcd election.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cw_master_is_leader",
			Help: "Is this master currently the elected master. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
