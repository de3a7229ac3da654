package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/pistelink/internal/box"
)

// Segment markers and their fixed offsets within a full message.
const (
	MarkerScore    byte = 'S'
	MarkerClock    byte = 'T'
	MarkerCards    byte = 'C'
	MarkerPriority byte = 'P'

	offScore    = 2
	offClock    = 10
	offCards    = 19
	offPriority = 27

	FullLen     = 31
	ScoreLen    = offClock
	ClockLen    = 2 + (offCards - offClock)
	CardsLen    = 2 + (offPriority - offCards)
	PriorityLen = 2 + (FullLen - offPriority)
)

// Encode renders the full state message for s.
func Encode(s box.State) string {
	var b strings.Builder
	b.Grow(FullLen)
	b.WriteString(pisteField(s.Piste))
	writeScore(&b, s)
	writeClock(&b, s)
	writeCards(&b, s)
	writePriority(&b, s)
	return b.String()
}

// EncodeScore renders the hit lights and score segment.
func EncodeScore(s box.State) string {
	var b strings.Builder
	b.WriteString(pisteField(s.Piste))
	writeScore(&b, s)
	return b.String()
}

func EncodeClock(s box.State) string {
	var b strings.Builder
	b.WriteString(pisteField(s.Piste))
	writeClock(&b, s)
	return b.String()
}

func EncodeCards(s box.State) string {
	var b strings.Builder
	b.WriteString(pisteField(s.Piste))
	writeCards(&b, s)
	return b.String()
}

func EncodePriority(s box.State) string {
	var b strings.Builder
	b.WriteString(pisteField(s.Piste))
	writePriority(&b, s)
	return b.String()
}

func pisteField(piste int) string {
	return fmt.Sprintf("%02d", piste%100)
}

func writeScore(b *strings.Builder, s box.State) {
	b.WriteByte(MarkerScore)
	b.WriteByte(hitChar(s.HitA))
	b.WriteByte(hitChar(s.HitB))
	b.WriteString(box.TwoDigit(s.ScoreA))
	b.WriteByte(':')
	b.WriteString(box.TwoDigit(s.ScoreB))
}

func writeClock(b *strings.Builder, s box.State) {
	b.WriteByte(MarkerClock)
	b.WriteString(box.TwoDigit(s.TimeMins))
	b.WriteByte(':')
	b.WriteString(box.TwoDigit(s.TimeSecs))
	b.WriteByte(':')
	b.WriteString(box.TwoDigit(s.TimeHund))
}

func writeCards(b *strings.Builder, s box.State) {
	b.WriteByte(MarkerCards)
	b.WriteString(cardField(s.CardA))
	b.WriteByte(':')
	b.WriteString(cardField(s.CardB))
}

func writePriority(b *strings.Builder, s box.State) {
	b.WriteByte(MarkerPriority)
	b.WriteByte(flagChar(s.PriA))
	b.WriteByte(':')
	b.WriteByte(flagChar(s.PriB))
}

func hitChar(h box.Hit) byte {
	switch h {
	case box.HitOnTarget:
		return 'h'
	case box.HitOffTarget:
		return 'o'
	default:
		return '-'
	}
}

func cardField(mask uint8) string {
	out := []byte("---")
	if mask&box.CardYellow != 0 {
		out[0] = 'y'
	}
	if mask&box.CardRed != 0 {
		out[1] = 'r'
	}
	if mask&box.CardShort != 0 {
		out[2] = 's'
	}
	return string(out)
}

func flagChar(v bool) byte {
	if v {
		return 'y'
	}
	return '-'
}
