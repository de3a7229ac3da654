package display

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogSound records tone changes in the log. A timed tone turns itself off.
type LogSound struct {
	mu    sync.Mutex
	on    bool
	timer *time.Timer
	gen   uint64
}

func NewLogSound() *LogSound {
	return &LogSound{}
}

func (s *LogSound) SoundOn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.on = true
	log.Debug().Msg("display.Sound on")
}

func (s *LogSound) SoundOnFor(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.on = true
	gen := s.gen
	s.timer = time.AfterFunc(d, func() { s.expire(gen) })
	log.Debug().Dur("for", d).Msg("display.Sound on")
}

func (s *LogSound) SoundOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	if s.on {
		log.Debug().Msg("display.Sound off")
	}
	s.on = false
}

func (s *LogSound) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func (s *LogSound) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.on = false
	s.timer = nil
	log.Debug().Msg("display.Sound off")
}

// stopTimerLocked cancels a pending timed off. gen guards against a timer
// that already fired and is waiting on the lock.
func (s *LogSound) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
