package engine

import "time"

// Metrics is a point-in-time view of the runner, published once per tick
// and readable from any goroutine. Counters are totals since construction,
// not per tick.
type Metrics struct {
	WorldID   string  `json:"world_id"`
	Running   bool    `json:"running"`
	Tick      uint64  `json:"tick"`
	TimeScale float64 `json:"time_scale"`

	Agents    int `json:"agents"`
	Animals   int `json:"animals"`
	Resources int `json:"resources"`

	QueueDepth int `json:"queue_depth"`
	QueueCap   int `json:"queue_cap"`

	CommandsApplied  uint64 `json:"commands_applied"`
	CommandsRejected uint64 `json:"commands_rejected"`
	EventsDelivered  uint64 `json:"events_delivered"`

	LastStep   time.Duration `json:"last_step_ns"`
	LastTickAt time.Time     `json:"last_tick_at"`
}

// Metrics returns the most recently published view, or a zero value before
// the first tick.
func (r *Runner) Metrics() Metrics {
	m, _ := r.stats.Load().(Metrics)
	return m
}

func (r *Runner) publishMetrics(stepDur time.Duration) {
	m := Metrics{
		WorldID:          r.cfg.WorldID,
		Running:          r.running.Load(),
		Tick:             r.tick.Load(),
		TimeScale:        r.timeScale,
		Agents:           r.world.Agents.Len(),
		Animals:          r.world.Animals.Len(),
		Resources:        r.world.Resources.Len(),
		QueueDepth:       r.queue.Len(),
		QueueCap:         r.queue.Cap(),
		CommandsApplied:  r.applied.Load(),
		CommandsRejected: r.rejected.Load(),
		EventsDelivered:  r.delivered.Load(),
		LastStep:         stepDur,
		LastTickAt:       time.Now().UTC(),
	}
	r.stats.Store(m)
}
