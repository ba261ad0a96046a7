package queue

import (
	"sync"

	"github.com/stadspuls/harvester/pkg/models"
)

// Signal is the in-process work signal that replaces HTTP self-nudging:
// anything that mints or advances items can wake the next stage's workers
// instead of waiting out their poll interval.
type Signal struct {
	mu    sync.Mutex
	wakes map[models.Stage]chan struct{}
}

// NewSignal creates a Signal covering all work stages.
func NewSignal() *Signal {
	wakes := make(map[models.Stage]chan struct{})
	for _, s := range models.WorkStages() {
		wakes[s] = make(chan struct{}, 1)
	}
	return &Signal{wakes: wakes}
}

// Nudge wakes one worker of the stage, if any is waiting. Nudges coalesce:
// a stage with a pending nudge absorbs further ones.
func (s *Signal) Nudge(stage models.Stage) {
	s.mu.Lock()
	ch, ok := s.wakes[stage]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Wake returns the stage's wake channel for use in a worker's select.
func (s *Signal) Wake(stage models.Stage) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes[stage]
}
