package journal

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 8

// Progress is the event published to watchers after each aggregation.
type Progress struct {
	Step       int      `json:"step"`
	Total      int      `json:"total"`
	Buggy      int      `json:"buggy"`
	Good       int      `json:"good"`
	BestMetric *float64 `json:"best_metric,omitempty"`
}

// Watch returns a channel receiving a Progress event after every completed
// step, and an unsubscribe function. Events are dropped for subscribers
// whose buffers are full.
func (j *Journal) Watch() (<-chan Progress, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Progress, subscriberBufferSize)
	id := j.nextID
	j.nextID++
	j.subs[id] = ch

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		delete(j.subs, id)
	}
}

// NotifyStep publishes a step-completion event to all watchers. The overall
// best metric is recomputed across the whole collection so watchers see the
// run's best, not just the step's.
func (j *Journal) NotifyStep(step int, st StepStats) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := Progress{
		Step:  step,
		Total: len(j.nodes),
		Buggy: st.Buggy,
		Good:  st.Good,
	}
	for _, n := range j.nodes {
		if n.IsBuggy() {
			continue
		}
		if m := n.Metric(); m != nil && (p.BestMetric == nil || j.better(*m, *p.BestMetric)) {
			p.BestMetric = m
		}
	}

	for _, ch := range j.subs {
		select {
		case ch <- p:
		default:
			// Drop for slow subscribers to avoid blocking aggregation.
		}
	}
}
