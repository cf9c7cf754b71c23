package metrics

import (
	"sync"
	"time"

	"robot-qlearning/internal/rl"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TrainingMetrics records training progress in Prometheus form
type TrainingMetrics struct {
	registry *prometheus.Registry

	// Counters
	episodes           *prometheus.CounterVec
	steps              prometheus.Counter
	collisions         prometheus.Counter
	collaboratorErrors prometheus.Counter
	checkpoints        prometheus.Counter

	// Gauges
	epsilon        prometheus.Gauge
	tableRows      prometheus.Gauge
	currentEpisode prometheus.Gauge

	// Histograms
	episodeReward prometheus.Histogram
	episodeSteps  prometheus.Histogram

	startTime time.Time
	mu        sync.RWMutex
	last      rl.EpisodeResult
}

// NewTrainingMetrics registers every collector on a fresh registry
func NewTrainingMetrics() *TrainingMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &TrainingMetrics{
		registry: reg,
		episodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qlearning_episodes_total",
			Help: "Episodes finished, by termination reason",
		}, []string{"reason"}),
		steps: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearning_steps_total",
			Help: "Environment steps taken",
		}),
		collisions: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearning_collisions_total",
			Help: "Steps that ended in the most severe sensor bin",
		}),
		collaboratorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearning_collaborator_errors_total",
			Help: "Episodes ended by a robot failure",
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearning_table_saves_total",
			Help: "Q-table saves, including checkpoints and the final save",
		}),
		epsilon: f.NewGauge(prometheus.GaugeOpts{
			Name: "qlearning_epsilon",
			Help: "Exploration rate of the current episode",
		}),
		tableRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "qlearning_table_rows",
			Help: "Materialized Q-table rows",
		}),
		currentEpisode: f.NewGauge(prometheus.GaugeOpts{
			Name: "qlearning_current_episode",
			Help: "Index of the episode in progress",
		}),
		episodeReward: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qlearning_episode_reward",
			Help:    "Total reward per episode",
			Buckets: prometheus.LinearBuckets(-100, 50, 12),
		}),
		episodeSteps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qlearning_episode_steps",
			Help:    "Steps per episode",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		startTime: time.Now(),
	}
}

// Registry returns the registry the collectors live on
func (m *TrainingMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *TrainingMetrics) EpisodeStarted(episode int, epsilon float64) {
	m.currentEpisode.Set(float64(episode))
	m.epsilon.Set(epsilon)
}

func (m *TrainingMetrics) StepCompleted(float64) {
	m.steps.Inc()
}

func (m *TrainingMetrics) EpisodeFinished(res rl.EpisodeResult) {
	m.episodes.WithLabelValues(string(res.Reason)).Inc()
	m.collisions.Add(float64(res.Collisions))
	if res.Reason == rl.ReasonCollaboratorError {
		m.collaboratorErrors.Inc()
	}
	m.episodeReward.Observe(res.TotalReward)
	m.episodeSteps.Observe(float64(res.Steps))

	m.mu.Lock()
	m.last = res
	m.mu.Unlock()
}

func (m *TrainingMetrics) CheckpointSaved() {
	m.checkpoints.Inc()
}

func (m *TrainingMetrics) TableRows(rows int) {
	m.tableRows.Set(float64(rows))
}

// GetStats returns a small snapshot for the health endpoint
func (m *TrainingMetrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	return map[string]interface{}{
		"uptime":              uptime.String(),
		"uptime_seconds":      uptime.Seconds(),
		"last_episode":        m.last.Episode,
		"last_episode_steps":  m.last.Steps,
		"last_episode_reward": m.last.TotalReward,
		"last_episode_reason": m.last.Reason,
	}
}
