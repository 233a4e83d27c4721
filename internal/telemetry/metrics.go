package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в default registry и отдаются
// через promhttp в main каждого сервиса.
var (
	// ProcessesStarted — количество запущенных процессов по workflow.
	ProcessesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "processes_started_total",
		Help:      "Number of started processes.",
	}, []string{"workflow"})

	// ProcessesFinished — количество завершённых процессов
	// по workflow и терминальному статусу.
	ProcessesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "processes_finished_total",
		Help:      "Number of processes that reached a terminal status.",
	}, []string{"workflow", "status"})

	// StepsExecuted — количество выполненных шагов по исходу.
	StepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "steps_executed_total",
		Help:      "Number of executed steps by outcome.",
	}, []string{"workflow", "step", "outcome"})

	// StepDuration — длительность выполнения шага.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conveyor",
		Name:      "step_duration_seconds",
		Help:      "Step execution duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"workflow", "step"})

	// EnginePaused — 1 когда движок не в RUNNING.
	EnginePaused = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conveyor",
		Name:      "engine_paused",
		Help:      "Whether the engine run-state is not RUNNING.",
	})

	// ProcessesRunning — количество процессов в статусе RUNNING.
	ProcessesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conveyor",
		Name:      "processes_running",
		Help:      "Number of processes currently claimed by the engine.",
	})
)
