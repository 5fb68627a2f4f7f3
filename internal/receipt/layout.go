package receipt

import (
	"strings"
	"unicode/utf8"
)

type align int

const (
	alignLeft align = iota
	alignCenter
	alignRight
)

// line is one printed row of a receipt before it is turned into plain text or
// printer commands. Text never exceeds the layout width.
type line struct {
	text  string
	align align
	bold  bool
	tall  bool
}

type layout struct {
	width int
	lines []line
}

func newLayout(width int) *layout {
	return &layout{width: width}
}

func (l *layout) add(text string, a align) {
	l.lines = append(l.lines, line{text: text, align: a})
}

func (l *layout) center(text string) {
	for _, part := range wrap(text, l.width) {
		l.add(part, alignCenter)
	}
}

func (l *layout) emphasize(text string, tall bool) {
	for _, part := range wrap(text, l.width) {
		l.lines = append(l.lines, line{text: part, align: alignCenter, bold: true, tall: tall})
	}
}

func (l *layout) separator(ch string) {
	l.add(strings.Repeat(ch, l.width), alignLeft)
}

func (l *layout) paragraph(text string) {
	for _, part := range wrap(text, l.width) {
		l.add(part, alignLeft)
	}
}

// keyValue puts key on the left and value on the right of one row. When both
// do not fit, the value moves to its own right-aligned row.
func (l *layout) keyValue(key, value string, bold bool) {
	kw, vw := utf8.RuneCountInString(key), utf8.RuneCountInString(value)
	if kw+vw+1 <= l.width {
		l.lines = append(l.lines, line{
			text: key + strings.Repeat(" ", l.width-kw-vw) + value,
			bold: bold,
		})
		return
	}
	for _, part := range wrap(key, l.width) {
		l.lines = append(l.lines, line{text: part, bold: bold})
	}
	for _, part := range wrap(value, l.width) {
		l.lines = append(l.lines, line{text: part, align: alignRight, bold: bold})
	}
}

func (l *layout) text() string {
	var b strings.Builder
	for _, ln := range l.lines {
		b.WriteString(strings.TrimRight(pad(ln.text, ln.align, l.width), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

func pad(text string, a align, width int) string {
	gap := width - utf8.RuneCountInString(text)
	if gap <= 0 {
		return text
	}
	switch a {
	case alignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + text + strings.Repeat(" ", gap-left)
	case alignRight:
		return strings.Repeat(" ", gap) + text
	default:
		return text + strings.Repeat(" ", gap)
	}
}

// wrap breaks text into rows of at most width runes, splitting on spaces and
// cutting words that are longer than a row.
func wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var rows []string
	current := ""
	for _, word := range words {
		for utf8.RuneCountInString(word) > width {
			if current != "" {
				rows = append(rows, current)
				current = ""
			}
			r := []rune(word)
			rows = append(rows, string(r[:width]))
			word = string(r[width:])
		}
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= width:
			current += " " + word
		default:
			rows = append(rows, current)
			current = word
		}
	}
	if current != "" {
		rows = append(rows, current)
	}
	return rows
}
