package protocol

import (
	"fmt"
	"strconv"

	"github.com/danmuck/pistelink/internal/box"
)

// Decode parses a full state message. Messages from localPiste are rejected
// with ErrSelf. Any error means the message must be dropped as a whole; no
// partially decoded state is ever returned.
func Decode(msg []byte, localPiste int) (box.State, error) {
	if len(msg) < FullLen {
		return box.State{}, fmt.Errorf("%w: got %d want %d", ErrLength, len(msg), FullLen)
	}
	for _, m := range []struct {
		off    int
		marker byte
	}{
		{offScore, MarkerScore},
		{offClock, MarkerClock},
		{offCards, MarkerCards},
		{offPriority, MarkerPriority},
	} {
		if msg[m.off] != m.marker {
			return box.State{}, fmt.Errorf("%w: offset %d want %q got %q", ErrMarker, m.off, m.marker, msg[m.off])
		}
	}
	piste, err := parsePiste(msg, localPiste)
	if err != nil {
		return box.State{}, err
	}

	s := box.NewState(piste)
	readScore(msg[offScore:], &s)
	readClock(msg[offClock:], &s)
	readCards(msg[offCards:], &s)
	readPriority(msg[offPriority:], &s)
	s.RxOk = true
	return s, nil
}

// ApplyPartial merges one message into dst. Full messages replace every wire
// field; segment messages only touch their own fields.
func ApplyPartial(msg []byte, localPiste int, dst *box.State) error {
	if len(msg) >= FullLen {
		s, err := Decode(msg, localPiste)
		if err != nil {
			return err
		}
		*dst = s
		return nil
	}
	if len(msg) < 3 {
		return fmt.Errorf("%w: got %d", ErrLength, len(msg))
	}
	want := map[byte]int{
		MarkerScore:    ScoreLen,
		MarkerClock:    ClockLen,
		MarkerCards:    CardsLen,
		MarkerPriority: PriorityLen,
	}
	n, ok := want[msg[2]]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSegment, msg[2])
	}
	if len(msg) < n {
		return fmt.Errorf("%w: segment %q got %d want %d", ErrLength, msg[2], len(msg), n)
	}
	piste, err := parsePiste(msg, localPiste)
	if err != nil {
		return err
	}
	if dst.Piste != piste {
		return fmt.Errorf("%w: segment for %d applied to %d", ErrPiste, piste, dst.Piste)
	}

	seg := msg[2:]
	switch msg[2] {
	case MarkerScore:
		readScore(seg, dst)
	case MarkerClock:
		readClock(seg, dst)
	case MarkerCards:
		readCards(seg, dst)
	case MarkerPriority:
		readPriority(seg, dst)
	}
	dst.RxOk = true
	return nil
}

func parsePiste(msg []byte, localPiste int) (int, error) {
	piste, err := strconv.Atoi(string(msg[0:2]))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrPiste, msg[0:2])
	}
	if piste == localPiste {
		return 0, ErrSelf
	}
	return piste, nil
}

// Segment readers take the segment starting at its marker byte.

func readScore(seg []byte, s *box.State) {
	s.HitA = hitFromChar(seg[1])
	s.HitB = hitFromChar(seg[2])
	s.SetScore(string(seg[3:5]), string(seg[6:8]))
}

func readClock(seg []byte, s *box.State) {
	s.SetClock(string(seg[1:3]), string(seg[4:6]), string(seg[7:9]))
}

func readCards(seg []byte, s *box.State) {
	s.SetCard(box.FencerA, cardFromField(seg[1:4]))
	s.SetCard(box.FencerB, cardFromField(seg[5:8]))
}

func readPriority(seg []byte, s *box.State) {
	s.PriA = seg[1] == 'y'
	s.PriB = seg[3] == 'y'
}

func hitFromChar(c byte) box.Hit {
	switch c {
	case 'h':
		return box.HitOnTarget
	case 'o':
		return box.HitOffTarget
	default:
		return box.HitNone
	}
}

func cardFromField(f []byte) uint8 {
	var mask uint8
	if f[0] == 'y' {
		mask |= box.CardYellow
	}
	if f[1] == 'r' {
		mask |= box.CardRed
	}
	if f[2] == 's' {
		mask |= box.CardShort
	}
	return mask
}
