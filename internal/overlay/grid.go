package overlay

import "strings"

// renderGrid turns a channel's body text into the fixed-width box the
// rendering contract requires: every line exactly GridWidth runes,
// first line opening with ╔, last with ╚, interior lines framed with
// ║ (or ╠ for a section divider the caller inserts separately).
// Content lines wider than the interior width are clipped by rune, not
// byte, so a multi-byte glyph is never split mid-sequence.
func renderGrid(title string, body []string, height int) []string {
	inner := GridWidth - 2
	lines := make([]string, 0, len(body)+2)
	lines = append(lines, "╔"+strings.Repeat("═", inner)+"╗")

	content := make([]string, 0, len(body)+1)
	if title != "" {
		content = append(content, title)
	}
	content = append(content, body...)

	want := height
	if want <= 0 {
		want = len(content)
	}
	for i := 0; i < want; i++ {
		var text string
		if i < len(content) {
			text = content[i]
		}
		lines = append(lines, "║"+padClip(text, inner)+"║")
	}
	lines = append(lines, "╚"+strings.Repeat("═", inner)+"╝")
	return lines
}

// padClip pads s with spaces (or clips it by rune) to exactly width
// runes.
func padClip(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width])
	}
	if len(r) < width {
		return s + strings.Repeat(" ", width-len(r))
	}
	return s
}

// divider is a mid-panel section separator, framed with ╠/╣ rather
// than ╔/╚, used between stacked slot grids.
func divider() string {
	return "╠" + strings.Repeat("═", GridWidth-2) + "╣"
}
