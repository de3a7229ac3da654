package box

import (
	"errors"
	"fmt"
)

var ErrUnknownName = errors.New("box: unknown name")

const (
	MaxPiste         = 30
	PassivityMaxTime = 60
)

// Mode is the box operating mode. None and Display are idle modes; the rest
// are active sub-modes of a locally connected box.
type Mode int

const (
	ModeNone Mode = iota
	ModeDisplay
	ModeSparring
	ModeBout
	ModeStopwatch
	ModeWeaponTest
	ModeDemo
)

var modeNames = [...]string{"none", "display", "sparring", "bout", "stopwatch", "weapon_test", "demo"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// Active reports whether m is a sub-mode driven by a connected box.
func (m Mode) Active() bool {
	switch m {
	case ModeSparring, ModeBout, ModeStopwatch, ModeWeaponTest:
		return true
	default:
		return false
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	for i, name := range modeNames {
		if name == string(text) {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("%w: mode %q", ErrUnknownName, text)
}

type Weapon int

const (
	WeaponFoil Weapon = iota
	WeaponEpee
	WeaponSabre
)

func (w Weapon) String() string {
	switch w {
	case WeaponFoil:
		return "foil"
	case WeaponEpee:
		return "epee"
	case WeaponSabre:
		return "sabre"
	default:
		return "unknown"
	}
}

func (w Weapon) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Weapon) UnmarshalText(text []byte) error {
	v, ok := ParseWeapon(string(text))
	if !ok {
		return fmt.Errorf("%w: weapon %q", ErrUnknownName, text)
	}
	*w = v
	return nil
}

// ParseWeapon accepts the weapon name or its first letter.
func ParseWeapon(raw string) (Weapon, bool) {
	switch raw {
	case "foil", "f", "F":
		return WeaponFoil, true
	case "epee", "e", "E":
		return WeaponEpee, true
	case "sabre", "saber", "s", "S":
		return WeaponSabre, true
	default:
		return 0, false
	}
}

type Hit int

const (
	HitNone Hit = iota
	HitOnTarget
	HitOffTarget
)

func (h Hit) String() string {
	switch h {
	case HitOnTarget:
		return "on_target"
	case HitOffTarget:
		return "off_target"
	default:
		return "none"
	}
}

func (h Hit) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hit) UnmarshalText(text []byte) error {
	for _, v := range []Hit{HitNone, HitOnTarget, HitOffTarget} {
		if v.String() == string(text) {
			*h = v
			return nil
		}
	}
	return fmt.Errorf("%w: hit %q", ErrUnknownName, text)
}

// Card mask bits.
const (
	CardYellow uint8 = 0x01
	CardRed    uint8 = 0x02
	CardShort  uint8 = 0x04

	cardMask = CardYellow | CardRed | CardShort
)

type PassivityCard int

const (
	PassivityNone PassivityCard = iota
	PassivityYellow
	PassivityRed1
	PassivityRed2
)

func (p PassivityCard) String() string {
	switch p {
	case PassivityYellow:
		return "yellow"
	case PassivityRed1:
		return "red1"
	case PassivityRed2:
		return "red2"
	default:
		return "none"
	}
}

func (p PassivityCard) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PassivityCard) UnmarshalText(text []byte) error {
	for _, v := range []PassivityCard{PassivityNone, PassivityYellow, PassivityRed1, PassivityRed2} {
		if v.String() == string(text) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("%w: passivity card %q", ErrUnknownName, text)
}

// Fencer indexes the two sides of a bout.
const (
	FencerA = 0
	FencerB = 1
)
