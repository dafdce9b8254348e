// Package console renders router state for operators in a terminal.
package console

import (
	"fmt"
	"strings"

	"fest_router/native/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

// RenderState draws the Sources and the Sinks with what each Sink shows.
func RenderState(st domain.State) string {
	names := make(map[string]string, len(st.Sources))
	for _, src := range st.Sources {
		names[src.ID] = src.Name
	}

	var sources strings.Builder
	sources.WriteString(boxTitleStyle.Render("Sources"))
	sources.WriteString("\n")
	if len(st.Sources) == 0 {
		sources.WriteString(dimStyle.Render("none registered"))
	}
	for i, src := range st.Sources {
		if i > 0 {
			sources.WriteString("\n")
		}
		sources.WriteString(row(src.Name, src.ID, statusStyle(src.Status == domain.SourceStreaming, src.Status.Failed()), src.Label, src.Error))
	}

	var sinks strings.Builder
	sinks.WriteString(boxTitleStyle.Render("Sinks"))
	sinks.WriteString("\n")
	if len(st.Sinks) == 0 {
		sinks.WriteString(dimStyle.Render("none registered"))
	}
	for i, sink := range st.Sinks {
		if i > 0 {
			sinks.WriteString("\n")
		}
		sinks.WriteString(row(sink.Name, sink.ID, statusStyle(sink.Status == domain.SinkConnected, sink.Status.Failed()), sink.Label, sink.Error))
		if sink.Status == domain.SinkConnected {
			sinks.WriteString("\n  ")
			sinks.WriteString(dimStyle.Render("showing "))
			sinks.WriteString(showing(sink.BoundSourceID, names))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(sources.String()),
		" ",
		boxStyle.Render(sinks.String()),
	)
}

func row(name, id string, style lipgloss.Style, label, errText string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s)", short(id))))
	b.WriteString("  ")
	b.WriteString(style.Render(label))
	if errText != "" {
		b.WriteString("\n  ")
		b.WriteString(errorStyle.Render(errText))
	}
	return b.String()
}

func statusStyle(live, failed bool) lipgloss.Style {
	switch {
	case failed:
		return errorStyle
	case live:
		return okStyle
	}
	return pendingStyle
}

func showing(sourceID string, names map[string]string) string {
	if sourceID == "" {
		return dimStyle.Render("no signal")
	}
	if name, ok := names[sourceID]; ok {
		return okStyle.Render(name)
	}
	return errorStyle.Render(short(sourceID) + " (gone)")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
