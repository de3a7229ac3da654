package frame

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/testutil/testlog"
)

func TestDecodeSkipsTrailingNoise(t *testing.T) {
	testlog.Start(t)

	events := Decode([]byte("!GOscoreignored"))
	want := []Event{{Kind: KindCommand, Code: "GO"}}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestDecodeAllMarkers(t *testing.T) {
	testlog.Start(t)

	in := []byte("!BS*0201$H1@0259:5907?01+12<11/?")
	want := []Event{
		{Kind: KindCommand, Code: "BS"},
		{Kind: KindScore, ScoreA: "02", ScoreB: "01"},
		{Kind: KindHit, Code: "H1"},
		{Kind: KindClock, Mins: "02", Secs: "59", Hund: "00"},
		{Kind: KindClock, Mins: "00", Secs: "59", Hund: "07", HundActive: true},
		{Kind: KindCard, Fencer: box.FencerA, Level: 1},
		{Kind: KindPassivityCard, Fencer: box.FencerB, Level: 2},
		{Kind: KindShortCircuit, Fencer: box.FencerB, Level: 1},
		{Kind: KindPoll},
	}
	got := Decode(in)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decode mismatch:\n got=%+v\nwant=%+v", got, want)
	}
}

func TestDecodeResynchronizesAfterGarbage(t *testing.T) {
	testlog.Start(t)

	got := Decode([]byte("\x00\xffzz!RLqq$H0"))
	want := []Event{
		{Kind: KindCommand, Code: "RL"},
		{Kind: KindHit, Code: "H0"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDecodeDropsTruncatedFrame(t *testing.T) {
	testlog.Start(t)

	got := Decode([]byte("!SS*02"))
	want := []Event{{Kind: KindCommand, Code: "SS"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %+v", got)
	}

	// The tail of a split frame arrives alone and decodes to nothing usable.
	if tail := Decode([]byte("01")); len(tail) != 0 {
		t.Fatalf("expected no events from orphaned tail, got %+v", tail)
	}
}

func TestDecodePollRequiresQuery(t *testing.T) {
	testlog.Start(t)

	got := Decode([]byte("/x/?"))
	if len(got) != 1 || got[0].Kind != KindPoll {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDecodeRejectsBadFencerOrLevel(t *testing.T) {
	testlog.Start(t)

	got := Decode([]byte("?21?09<15+0x!KC"))
	want := []Event{{Kind: KindCommand, Code: "KC"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDecodeKeepsFramesInsideRejectedPayload(t *testing.T) {
	testlog.Start(t)

	for _, chunk := range []string{"?!GO", "x?!GO", "+!GO", "<!GO"} {
		got := Decode([]byte(chunk))
		want := []Event{{Kind: KindCommand, Code: "GO"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%q: unexpected events: %+v", chunk, got)
		}
	}

	got := Decode([]byte("?1*0102"))
	want := []Event{{Kind: KindScore, ScoreA: "01", ScoreB: "02"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDecodeEmptyChunk(t *testing.T) {
	testlog.Start(t)

	if got := Decode(nil); len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
}

func TestReplies(t *testing.T) {
	testlog.Start(t)

	if !bytes.Equal(KeyReply('K'), []byte("/K")) {
		t.Fatalf("unexpected key reply %q", KeyReply('K'))
	}
	cases := map[box.Weapon]string{
		box.WeaponFoil:  "/f",
		box.WeaponEpee:  "/e",
		box.WeaponSabre: "/s",
	}
	for w, want := range cases {
		if got := string(WeaponReply(w)); got != want {
			t.Fatalf("weapon %s reply=%q want %q", w, got, want)
		}
	}
}
