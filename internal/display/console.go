package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/pterm/pterm"
)

// Console renders pushes as terminal text. DisplayBox draws a boxed panel;
// Update prints a single line for the group that changed.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer, color bool) *Console {
	if !color {
		pterm.DisableColor()
	}
	return &Console{w: w}
}

func (c *Console) DisplayBox(s box.State) {
	body := strings.Join([]string{
		fmt.Sprintf("%s  %s", pterm.Bold.Sprint(s.Mode.String()), s.Weapon.String()),
		fmt.Sprintf("%s   %s:%s   %s", hitLamp(s.HitA, pterm.FgRed), s.ScoreA, s.ScoreB, hitLamp(s.HitB, pterm.FgGreen)),
		"clock " + ClockText(s),
		fmt.Sprintf("cards %s : %s", CardText(s.CardA), CardText(s.CardB)),
		fmt.Sprintf("priority %s : %s", flag(s.PriA), flag(s.PriB)),
		"passivity " + PassivityText(s),
	}, "\n")
	title := fmt.Sprintf("piste %02d", s.Piste)
	if !s.RxOk {
		title += " (stale)"
	}
	panel := pterm.DefaultBox.WithTitle(title).WithTitleTopCenter().Sprint(body)
	c.write(panel)
}

func (c *Console) Update(g Group, s box.State) {
	var line string
	switch g {
	case GroupHits:
		line = fmt.Sprintf("%s %s", hitLamp(s.HitA, pterm.FgRed), hitLamp(s.HitB, pterm.FgGreen))
	case GroupScore:
		line = s.ScoreA + ":" + s.ScoreB
	case GroupClock:
		line = ClockText(s)
	case GroupCards:
		line = CardText(s.CardA) + " : " + CardText(s.CardB)
	case GroupPriority:
		line = flag(s.PriA) + " : " + flag(s.PriB)
		if s.PriorityIndicator {
			line += " (drawing)"
		}
	case GroupPassivity:
		line = PassivityText(s)
	case GroupPassivityCard:
		line = s.PassivityCard[box.FencerA].String() + " : " + s.PassivityCard[box.FencerB].String()
	case GroupMode:
		line = s.Mode.String()
	}
	c.write(fmt.Sprintf("%s %s %s", pterm.FgGray.Sprintf("[%02d]", s.Piste), pterm.FgCyan.Sprint(g.String()), line))
}

func (c *Console) write(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, text)
}

// ClockText formats the clock; hundredths are shown only under ten seconds.
func ClockText(s box.State) string {
	if s.Mode == box.ModeStopwatch && s.Hours > 0 {
		return fmt.Sprintf("%02d:%s:%s", s.Hours, s.TimeMins, s.TimeSecs)
	}
	if s.TimeMins == "00" && s.TimeHund != "00" {
		return s.TimeSecs + "." + s.TimeHund
	}
	return s.TimeMins + ":" + s.TimeSecs
}

// CardText renders the yellow, red and short-circuit bits as y r s.
func CardText(mask uint8) string {
	b := []byte("---")
	if mask&box.CardYellow != 0 {
		b[0] = 'y'
	}
	if mask&box.CardRed != 0 {
		b[1] = 'r'
	}
	if mask&box.CardShort != 0 {
		b[2] = 's'
	}
	return string(b)
}

// PassivityText shows the countdown, or the hour counter in stopwatch mode.
func PassivityText(s box.State) string {
	if s.Mode == box.ModeStopwatch {
		return fmt.Sprintf("%02dh", s.Hours)
	}
	if !s.Passivity.Active {
		return "off"
	}
	return fmt.Sprintf("%02ds", s.Passivity.Seconds)
}

func hitLamp(h box.Hit, on pterm.Color) string {
	switch h {
	case box.HitOnTarget:
		return on.Sprint("[#]")
	case box.HitOffTarget:
		return pterm.FgWhite.Sprint("[o]")
	default:
		return "[ ]"
	}
}

func flag(v bool) string {
	if v {
		return "*"
	}
	return "-"
}
