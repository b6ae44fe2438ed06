// Package ui renders CLI output: one-line session results, key/value blocks
// and tables. Styling follows the color profile chosen by ConfigureColor.
package ui

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Session result marks.
const (
	markOK   = "✓"
	markWarn = "!"
	markFail = "✗"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func Muted(s string) string { return mutedStyle.Render(s) }

func SuccessMsg(format string, a ...any) string { return marked(okStyle, markOK, format, a...) }
func WarnMsg(format string, a ...any) string    { return marked(warnStyle, markWarn, format, a...) }
func ErrorMsg(format string, a ...any) string   { return marked(failStyle, markFail, format, a...) }

func marked(style lipgloss.Style, mark, format string, a ...any) string {
	return style.Render(mark) + " " + fmt.Sprintf(format, a...)
}

// Pair is one line of a KeyValues block.
type Pair struct {
	key   string
	value string
}

func KV(key, value string) Pair {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	return Pair{key: key, value: value}
}

// KeyValues aligns values after the longest key. Each line ends in a newline.
func KeyValues(indent string, pairs ...Pair) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p.key))
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", width+1, p.key+":")
		sb.WriteString(indent + mutedStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// Table renders rows under headers. Columns whose cells are all numeric are
// right-aligned.
func Table(headers []string, rows [][]string) string {
	numeric := numericColumns(len(headers), rows)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col < len(numeric) && numeric[col] {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

func numericColumns(n int, rows [][]string) []bool {
	out := make([]bool, n)
	if len(rows) == 0 {
		return out
	}
	for col := range out {
		out[col] = true
		for _, row := range rows {
			if col >= len(row) || !isNumber(row[col]) {
				out[col] = false
				break
			}
		}
	}
	return out
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
