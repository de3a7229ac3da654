package box

// Passivity is the passivity countdown in whole seconds, clamped to
// [0, Max]. In Stopwatch mode Seconds mirrors the hours wrap counter instead
// of counting down.
type Passivity struct {
	Seconds int  `json:"seconds"`
	Active  bool `json:"active"`
	Max     int  `json:"max"`
}

func NewPassivity(max int) Passivity {
	if max <= 0 {
		max = PassivityMaxTime
	}
	return Passivity{Seconds: max, Max: max}
}

// Restart activates the countdown at min(seconds, Max).
func (p *Passivity) Restart(seconds int) {
	p.Active = true
	p.Seconds = p.clamp(seconds)
}

// Clear deactivates the countdown and parks it at Max.
func (p *Passivity) Clear() {
	p.Active = false
	p.Seconds = p.Max
}

// Tick decrements by one second when active in Bout mode. It reports whether
// the value changed.
func (p *Passivity) Tick(mode Mode) bool {
	if !p.Active || mode != ModeBout || p.Seconds <= 0 {
		return false
	}
	p.Seconds--
	return true
}

// Set stores seconds clamped to [0, Max] without touching Active.
func (p *Passivity) Set(seconds int) {
	p.Seconds = p.clamp(seconds)
}

func (p *Passivity) clamp(seconds int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > p.Max {
		return p.Max
	}
	return seconds
}
