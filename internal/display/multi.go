package display

import (
	"time"

	"github.com/danmuck/pistelink/internal/box"
)

// Multi pushes to every sink in order. Nil sinks are skipped.
type Multi []Sink

func (m Multi) DisplayBox(s box.State) {
	for _, sink := range m {
		if sink != nil {
			sink.DisplayBox(s)
		}
	}
}

func (m Multi) Update(g Group, s box.State) {
	for _, sink := range m {
		if sink != nil {
			sink.Update(g, s)
		}
	}
}

type MultiSound []SoundSink

func (m MultiSound) SoundOn() {
	for _, s := range m {
		if s != nil {
			s.SoundOn()
		}
	}
}

func (m MultiSound) SoundOnFor(d time.Duration) {
	for _, s := range m {
		if s != nil {
			s.SoundOnFor(d)
		}
	}
}

func (m MultiSound) SoundOff() {
	for _, s := range m {
		if s != nil {
			s.SoundOff()
		}
	}
}
