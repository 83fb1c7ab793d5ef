// Package ui renders gv output for terminals: styled decisions, rule
// tables, SLA reports and markdown explanations.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/grievance/internal/types"
)

// tone is the meaning a piece of output carries, independent of its color.
type tone int

const (
	tonePlain tone = iota
	tonePass
	toneWarn
	toneFail
	toneMuted
	toneAccent
)

// Ayu palette, adaptive to light and dark backgrounds.
var palette = map[tone]lipgloss.AdaptiveColor{
	tonePass:   {Light: "#86b300", Dark: "#c2d94c"},
	toneWarn:   {Light: "#f2ae49", Dark: "#ffb454"},
	toneFail:   {Light: "#f07171", Dark: "#f07178"},
	toneMuted:  {Light: "#828c99", Dark: "#6c7680"},
	toneAccent: {Light: "#399ee6", Dark: "#59c2ff"},
}

func style(t tone) lipgloss.Style {
	s := lipgloss.NewStyle()
	if c, ok := palette[t]; ok {
		s = s.Foreground(c)
	}
	return s
}

func paint(t tone, s string) string {
	return style(t).Render(s)
}

var icons = map[tone]string{
	tonePass:   "✓",
	toneWarn:   "⚠",
	toneFail:   "✗",
	toneAccent: "ℹ",
}

// Indentation for detail lines under a decision or report row.
const (
	TreeLast   = "└─ "
	TreeIndent = "  "
)

const separator = "──────────────────────────────────────────"

func RenderPass(s string) string   { return paint(tonePass, s) }
func RenderWarn(s string) string   { return paint(toneWarn, s) }
func RenderFail(s string) string   { return paint(toneFail, s) }
func RenderMuted(s string) string  { return paint(toneMuted, s) }
func RenderAccent(s string) string { return paint(toneAccent, s) }

func RenderPassIcon() string { return paint(tonePass, icons[tonePass]) }
func RenderWarnIcon() string { return paint(toneWarn, icons[toneWarn]) }
func RenderFailIcon() string { return paint(toneFail, icons[toneFail]) }
func RenderInfoIcon() string { return paint(toneAccent, icons[toneAccent]) }

// RenderBold renders field labels and headings.
func RenderBold(s string) string {
	return lipgloss.NewStyle().Bold(true).Render(s)
}

// RenderCategory renders a section header: upper case, bold, accented.
func RenderCategory(s string) string {
	return style(toneAccent).Bold(true).Render(strings.ToUpper(s))
}

// RenderSeparator renders the rule between report sections.
func RenderSeparator() string {
	return paint(toneMuted, separator)
}

func stateTone(s types.ClaimState) tone {
	switch s {
	case types.StateResolved:
		return tonePass
	case types.StateRejected:
		return toneFail
	case types.StatePendingDocumentation:
		return toneWarn
	case types.StateClosed:
		return toneMuted
	default:
		return toneAccent
	}
}

// RenderState colors a claim state by outcome: resolved green, rejected red,
// waiting on the member yellow, closed muted, in-flight accented.
func RenderState(s types.ClaimState) string {
	return paint(stateTone(s), string(s))
}

// RenderPriority makes critical and high priorities stand out.
func RenderPriority(p types.Priority) string {
	switch p {
	case types.PriorityCritical:
		return style(toneFail).Bold(true).Render(string(p))
	case types.PriorityHigh:
		return paint(toneWarn, string(p))
	default:
		return string(p)
	}
}
