package frame

import (
	"fmt"

	"github.com/danmuck/pistelink/internal/box"
)

// Frame markers sent by the scoring box.
const (
	MarkerCommand       byte = '!'
	MarkerScore         byte = '*'
	MarkerHit           byte = '$'
	MarkerClock         byte = '@'
	MarkerClockHund     byte = ':'
	MarkerCard          byte = '?'
	MarkerPassivityCard byte = '+'
	MarkerShortCircuit  byte = '<'
	MarkerPoll          byte = '/'

	pollQuery byte = '?'
)

// PowerUpAck is written back to the box after a GO command.
var PowerUpAck = []byte("!OK")

type Kind int

const (
	KindCommand Kind = iota + 1
	KindScore
	KindHit
	KindClock
	KindCard
	KindPassivityCard
	KindShortCircuit
	KindPoll
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindScore:
		return "score"
	case KindHit:
		return "hit"
	case KindClock:
		return "clock"
	case KindCard:
		return "card"
	case KindPassivityCard:
		return "passivity_card"
	case KindShortCircuit:
		return "short_circuit"
	case KindPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Event is one decoded frame. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind

	// Code holds the two letter command or hit code.
	Code string

	// ScoreA and ScoreB are raw two character scores.
	ScoreA string
	ScoreB string

	// Clock fields. HundActive is set for ':' frames, which carry seconds
	// and hundredths instead of minutes and seconds.
	Mins       string
	Secs       string
	Hund       string
	HundActive bool

	// Fencer is box.FencerA or box.FencerB for card, passivity card and
	// short circuit frames. Level is the card level or the 0/1 short
	// circuit state.
	Fencer int
	Level  int
}

func (e Event) String() string {
	switch e.Kind {
	case KindCommand, KindHit:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Code)
	case KindScore:
		return fmt.Sprintf("score(%s:%s)", e.ScoreA, e.ScoreB)
	case KindClock:
		return fmt.Sprintf("clock(%s:%s.%s)", e.Mins, e.Secs, e.Hund)
	case KindCard, KindPassivityCard, KindShortCircuit:
		return fmt.Sprintf("%s(%d,%d)", e.Kind, e.Fencer, e.Level)
	default:
		return e.Kind.String()
	}
}

// payloadLen maps each marker to its fixed payload length.
var payloadLen = map[byte]int{
	MarkerCommand:       2,
	MarkerScore:         4,
	MarkerHit:           2,
	MarkerClock:         4,
	MarkerClockHund:     4,
	MarkerCard:          2,
	MarkerPassivityCard: 2,
	MarkerShortCircuit:  2,
	MarkerPoll:          1,
}

// Decode scans chunk once and returns the events it contains. Bytes that are
// not markers, and markers whose payload does not parse, are skipped one at a
// time. A marker whose payload runs past the
// end of chunk is dropped; nothing is carried into the next call.
func Decode(chunk []byte) []Event {
	var events []Event
	for i := 0; i < len(chunk); {
		n, ok := payloadLen[chunk[i]]
		if !ok {
			i++
			continue
		}
		if i+1+n > len(chunk) {
			break
		}
		marker := chunk[i]
		payload := chunk[i+1 : i+1+n]
		if marker == MarkerPoll && payload[0] != pollQuery {
			i++
			continue
		}
		ev, ok := decodeFrame(marker, payload)
		if !ok {
			i++
			continue
		}
		events = append(events, ev)
		i += 1 + n
	}
	return events
}

func decodeFrame(marker byte, p []byte) (Event, bool) {
	switch marker {
	case MarkerCommand:
		return Event{Kind: KindCommand, Code: string(p)}, true
	case MarkerHit:
		return Event{Kind: KindHit, Code: string(p)}, true
	case MarkerScore:
		return Event{Kind: KindScore, ScoreA: string(p[0:2]), ScoreB: string(p[2:4])}, true
	case MarkerClock:
		return Event{Kind: KindClock, Mins: string(p[0:2]), Secs: string(p[2:4]), Hund: "00"}, true
	case MarkerClockHund:
		return Event{Kind: KindClock, Mins: "00", Secs: string(p[0:2]), Hund: string(p[2:4]), HundActive: true}, true
	case MarkerCard:
		return pairEvent(KindCard, p, 3)
	case MarkerPassivityCard:
		return pairEvent(KindPassivityCard, p, 3)
	case MarkerShortCircuit:
		return pairEvent(KindShortCircuit, p, 1)
	case MarkerPoll:
		return Event{Kind: KindPoll}, true
	}
	return Event{}, false
}

func pairEvent(kind Kind, p []byte, maxLevel int) (Event, bool) {
	fencer := int(p[0]) - '0'
	level := int(p[1]) - '0'
	if fencer != box.FencerA && fencer != box.FencerB {
		return Event{}, false
	}
	if level < 0 || level > maxLevel {
		return Event{}, false
	}
	return Event{Kind: kind, Fencer: fencer, Level: level}, true
}

// KeyReply frames one queued keypress as a poll answer.
func KeyReply(key byte) []byte {
	return []byte{MarkerPoll, key}
}

// WeaponReply frames a pending weapon change as a poll answer.
func WeaponReply(w box.Weapon) []byte {
	switch w {
	case box.WeaponEpee:
		return []byte{MarkerPoll, 'e'}
	case box.WeaponSabre:
		return []byte{MarkerPoll, 's'}
	default:
		return []byte{MarkerPoll, 'f'}
	}
}
