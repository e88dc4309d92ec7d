package native

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"
)

var (
	styleDefault = tcell.StyleDefault
	styleBar     = tcell.StyleDefault.Reverse(true)
	styleActive  = tcell.StyleDefault.Reverse(true).Bold(true)
	styleBox     = tcell.StyleDefault.Background(tcell.ColorNavy).Foreground(tcell.ColorWhite)
	styleInput   = tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite)
)

const hints = "Tab next  Ctrl-W close  Ctrl-C quit"

// draw renders the focused window, any open menu or dialog, and shows the
// result.
func (t *Terminal) draw() {
	s := t.screen
	s.Clear()
	width, height := s.Size()
	if width <= 0 || height <= 0 {
		return
	}

	focused, titles, status := t.desktop.Snapshot()

	// Title bar: every window, the focused one highlighted.
	fill(s, 0, 0, width, 1, styleBar)
	x := 0
	for _, w := range titles {
		style := styleBar
		if w.Focused {
			style = styleActive
		}
		x = drawText(s, x, 0, width, " "+w.Title+" ", style)
		if x >= width {
			break
		}
	}

	// Content.
	if focused.ID != 0 {
		for i, line := range strings.Split(focused.Content, "\n") {
			y := 1 + i
			if y >= height-1 {
				break
			}
			drawText(s, 0, y, width, line, styleDefault)
		}
	} else {
		drawText(s, 1, 1, width, "no windows", styleDefault.Dim(true))
	}

	// Status line.
	fill(s, 0, height-1, width, 1, styleBar)
	end := drawText(s, 0, height-1, width, " "+status, styleBar)
	if hx := width - uniseg.StringWidth(hints) - 1; hx > end {
		drawText(s, hx, height-1, width, hints, styleBar)
	}

	if t.menu != nil {
		t.drawMenu(width, height)
	}
	if t.dialog != nil {
		t.drawDialog(width, height)
	}
	s.Show()
}

func (t *Terminal) drawMenu(width, height int) {
	m := t.menu
	boxW := 0
	for _, it := range m.cmd.Items {
		if w := uniseg.StringWidth(it.Label); w > boxW {
			boxW = w
		}
	}
	boxW += 4
	boxH := len(m.cmd.Items) + 2
	x0, y0 := 2, 2
	if x0+boxW > width {
		boxW = width - x0
	}
	if y0+boxH > height-1 {
		boxH = height - 1 - y0
	}
	box(t.screen, x0, y0, boxW, boxH, styleBox)
	for i, it := range m.cmd.Items {
		y := y0 + 1 + i
		if y >= y0+boxH-1 {
			break
		}
		style := styleBox
		if i == m.selected {
			style = styleBox.Reverse(true)
		}
		fill(t.screen, x0+1, y, boxW-2, 1, style)
		drawText(t.screen, x0+2, y, x0+boxW-1, it.Label, style)
	}
}

func (t *Terminal) drawDialog(width, height int) {
	d := t.dialog
	boxW := width * 2 / 3
	if boxW < 20 {
		boxW = width
	}
	lines := []string{}
	if d.cmd.Message != "" {
		lines = append(lines, strings.Split(d.cmd.Message, "\n")...)
	}
	boxH := len(lines) + 4
	if d.cmd.Kind != "message" && d.cmd.Kind != "confirm" {
		boxH++
	}
	x0 := (width - boxW) / 2
	y0 := (height - boxH) / 2
	if y0 < 0 {
		y0 = 0
	}

	box(t.screen, x0, y0, boxW, boxH, styleBox)
	title := d.cmd.Title
	if title == "" {
		title = string(d.cmd.Kind)
	}
	drawText(t.screen, x0+2, y0, x0+boxW-1, " "+title+" ", styleBox.Bold(true))

	y := y0 + 1
	for _, line := range lines {
		drawText(t.screen, x0+2, y, x0+boxW-2, line, styleBox)
		y++
	}

	var help string
	switch d.cmd.Kind {
	case "message":
		help = "Enter ok"
	case "confirm":
		help = "y/Enter yes  n/Esc no"
	default:
		fill(t.screen, x0+2, y+1, boxW-4, 1, styleInput)
		input := string(d.input)
		// Keep the tail of long input visible.
		for uniseg.StringWidth(input) > boxW-5 && input != "" {
			_, rest, _, _ := uniseg.FirstGraphemeClusterInString(input, -1)
			input = rest
		}
		end := drawText(t.screen, x0+2, y+1, x0+boxW-2, input, styleInput)
		t.screen.ShowCursor(end, y+1)
		help = "Enter ok  Esc cancel"
		y++
	}
	drawText(t.screen, x0+2, y0+boxH-2, x0+boxW-2, help, styleBox.Dim(true))
}

// drawText draws s from x on row y, stopping before column limit. It walks
// grapheme clusters so wide and combined characters occupy the right number
// of cells. It returns the column after the last drawn cluster.
func drawText(s tcell.Screen, x, y, limit int, text string, style tcell.Style) int {
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		runes := g.Runes()
		w := g.Width()
		if w == 0 {
			continue
		}
		if x+w > limit {
			break
		}
		s.SetContent(x, y, runes[0], runes[1:], style)
		for i := 1; i < w; i++ {
			s.SetContent(x+i, y, ' ', nil, style)
		}
		x += w
	}
	return x
}

func fill(s tcell.Screen, x, y, w, h int, style tcell.Style) {
	for row := y; row < y+h; row++ {
		for col := x; col < x+w; col++ {
			s.SetContent(col, row, ' ', nil, style)
		}
	}
}

func box(s tcell.Screen, x, y, w, h int, style tcell.Style) {
	if w < 2 || h < 2 {
		return
	}
	fill(s, x, y, w, h, style)
	for col := x + 1; col < x+w-1; col++ {
		s.SetContent(col, y, tcell.RuneHLine, nil, style)
		s.SetContent(col, y+h-1, tcell.RuneHLine, nil, style)
	}
	for row := y + 1; row < y+h-1; row++ {
		s.SetContent(x, row, tcell.RuneVLine, nil, style)
		s.SetContent(x+w-1, row, tcell.RuneVLine, nil, style)
	}
	s.SetContent(x, y, tcell.RuneULCorner, nil, style)
	s.SetContent(x+w-1, y, tcell.RuneURCorner, nil, style)
	s.SetContent(x, y+h-1, tcell.RuneLLCorner, nil, style)
	s.SetContent(x+w-1, y+h-1, tcell.RuneLRCorner, nil, style)
}
