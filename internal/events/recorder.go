package events

import "sync"

// Recorder keeps every event published on a bus, in order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder subscribes a recorder to every topic on bus
func NewRecorder(bus *Bus) *Recorder {
	r := &Recorder{}
	bus.SubscribeAll(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topics returns the recorded topics, optionally filtered to the given ones
func (r *Recorder) Topics(only ...string) []string {
	filter := make(map[string]bool, len(only))
	for _, t := range only {
		filter[t] = true
	}

	var topics []string
	for _, e := range r.Events() {
		if len(filter) > 0 && !filter[e.Topic()] {
			continue
		}
		topics = append(topics, e.Topic())
	}
	return topics
}

// Count returns how many events of a topic were recorded
func (r *Recorder) Count(topic string) int {
	return len(r.Topics(topic))
}
