package repeater

import "github.com/danmuck/pistelink/internal/protocol/frame"

// demoScript is a short bout replayed one chunk per demo tick. It carries no
// mode commands so the processor stays in demo mode while it loops.
var demoScript = []string{
	"@0300*0000$H0",
	"@0259",
	"@0258$H1",
	"*0100$H0",
	"@0257",
	"@0256$O1",
	"@0255$H0?01",
	"@0254$H2",
	"*0101$H0",
	"@0253",
	"@0252$H3",
	"*0201$H0<11",
	"@0251<10",
	"@0250$H4?12",
	"*0202$H0",
	"@0249+01",
}

// demoPlayer steps through demoScript, wrapping at the end.
type demoPlayer struct {
	next int
}

func (d *demoPlayer) reset() {
	d.next = 0
}

func (d *demoPlayer) step() []frame.Event {
	chunk := demoScript[d.next]
	d.next = (d.next + 1) % len(demoScript)
	return frame.Decode([]byte(chunk))
}
