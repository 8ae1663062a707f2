package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Agents     int `json:"agents"`
	Clients    int `json:"clients"`
	Containers int `json:"containers"`
	Items      int `json:"items"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	IntentsApplied  uint64 `json:"intents_applied"`
	IntentsRejected uint64 `json:"intents_rejected"`
	ClientsDropped  uint64 `json:"clients_dropped"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) storeMetrics(tick uint64, stepMS float64) {
	w.metrics.Store(WorldMetrics{
		Tick:       tick,
		Agents:     len(w.agents),
		Clients:    len(w.clients),
		Containers: len(w.state.IDs()),
		Items:      w.state.Items().Len(),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS:          stepMS,
		IntentsApplied:  w.applied,
		IntentsRejected: w.rejected,
		ClientsDropped:  w.dropped,
	})
}
