package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kjstillabower/weather-forecast/internal/units"
	"github.com/kjstillabower/weather-forecast/internal/view"
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	taglineStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("220"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	todayStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 2)
	dayStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1).Width(16)
	docStyle     = lipgloss.NewStyle().Margin(1, 2)
)

const logo = `   \  |  /
 -- ( ) --
   /  |  \`

func (m Model) View() string {
	switch m.screen {
	case screenSplash:
		return m.splashView()
	case screenSettings:
		return docStyle.Render(m.settingsView())
	case screenSearch:
		return docStyle.Render(m.searchView())
	}
	return docStyle.Render(m.mainView())
}

func (m Model) splashView() string {
	body := lipgloss.JoinVertical(lipgloss.Center,
		taglineStyle.Render(logo),
		"",
		titleStyle.Render(Tagline),
	)
	if m.width > 0 {
		return lipgloss.PlaceHorizontal(m.width, lipgloss.Center, "\n\n"+body)
	}
	return "\n\n" + body + "\n"
}

func (m Model) mainView() string {
	var b strings.Builder

	title := m.city
	if m.forecast != nil && m.forecast.Title != "" {
		title = m.forecast.Title
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	switch {
	case m.loading && m.forecast == nil:
		fmt.Fprintf(&b, "%s Loading forecast for %s\n", m.spinner.View(), m.city)
	case m.err != nil:
		b.WriteString(errorStyle.Render(errorMessage(m.city, m.err)))
		b.WriteString("\n")
	}

	if f := m.forecast; f != nil && m.err == nil {
		if m.loading {
			fmt.Fprintf(&b, "%s Refreshing\n", m.spinner.View())
		}
		if f.Stale {
			b.WriteString(mutedStyle.Render("Showing the last saved forecast; the weather service is unavailable."))
			b.WriteString("\n")
		}
		if f.Today != nil {
			b.WriteString(todayStyle.Render(todayCard(*f.Today)))
			b.WriteString("\n")
		}
		if len(f.Days) > 1 {
			cards := make([]string, 0, len(f.Days)-1)
			for _, d := range f.Days[1:] {
				cards = append(cards, dayStyle.Render(dayCard(d)))
			}
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("s settings • / search • r refresh • q quit"))
	return b.String()
}

func todayCard(d view.Day) string {
	return strings.Join([]string{
		"Today, " + d.Date,
		d.Glyph + "  " + d.Category,
		titleStyle.Render(d.Temp) + "  " + d.Description,
		fmt.Sprintf("Pressure %s   Humidity %s   Wind %s", d.Pressure, d.Humidity, d.Wind),
	}, "\n")
}

func dayCard(d view.Day) string {
	return strings.Join([]string{d.Date, d.Glyph + " " + d.Category, d.Temp}, "\n")
}

func (m Model) settingsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Change Units of Measurement"))
	b.WriteString("\n\n")
	for _, s := range []units.System{units.Imperial, units.Metric} {
		mark := "( )"
		if s == m.pending {
			mark = "(•)"
		}
		fmt.Fprintf(&b, "  %s %s\n", mark, s.ToggleLabel())
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("space toggle • enter save • esc back"))
	return b.String()
}

func (m Model) searchView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Search city"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("enter search • esc back"))
	return b.String()
}
