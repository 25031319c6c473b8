// Package tui is the terminal front end: a splash screen, the forecast screen, the
// unit settings screen and a city search prompt.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/client"
	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/units"
	"github.com/kjstillabower/weather-forecast/internal/validation"
	"github.com/kjstillabower/weather-forecast/internal/view"
)

// DefaultCity is shown when no city is given.
const DefaultCity = "Cairo"

// Tagline is the splash screen text.
const Tagline = "Find The Sunshine In Your Day!"

// SplashDelay is how long the splash screen stays up without a keypress.
const SplashDelay = 2 * time.Second

// ForecastSource loads a forecast for the main screen.
type ForecastSource interface {
	GetForecast(ctx context.Context, city string, system units.System) (models.Forecast, error)
}

// Preferences is the unit preference surface used by the settings screen.
type Preferences interface {
	Save(ctx context.Context, system units.System) (models.UnitPreference, error)
	Watch(ctx context.Context) <-chan []models.UnitPreference
	// Default is the system shown while nothing is stored.
	Default() units.System
}

type screen int

const (
	screenSplash screen = iota
	screenMain
	screenSettings
	screenSearch
)

type splashDoneMsg struct{}

type unitsMsg struct {
	prefs []models.UnitPreference
}

type forecastMsg struct {
	city     string
	system   units.System
	forecast models.Forecast
	err      error
}

type savedMsg struct {
	system units.System
	err    error
}

// Model is the root bubbletea model. It owns navigation between screens.
type Model struct {
	ctx       context.Context
	forecasts ForecastSource
	prefs     Preferences
	logger    *zap.Logger
	updates   <-chan []models.UnitPreference

	screen      screen
	splashDelay time.Duration
	width       int

	city      string
	system    units.System
	unitsRead bool

	forecast *view.Forecast
	loading  bool
	err      error

	pending units.System
	status  string

	spinner spinner.Model
	input   textinput.Model
}

// New returns a model for city (DefaultCity when empty). ctx bounds the preference
// subscription and every forecast fetch.
func New(ctx context.Context, forecasts ForecastSource, prefs Preferences, city string, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	city = strings.TrimSpace(city)
	if city == "" {
		city = DefaultCity
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	in := textinput.New()
	in.Placeholder = "City name, e.g. London or Paris,FR"
	in.CharLimit = validation.MaxCityLen
	in.Width = 40

	return Model{
		ctx:         ctx,
		forecasts:   forecasts,
		prefs:       prefs,
		logger:      logger,
		updates:     prefs.Watch(ctx),
		screen:      screenSplash,
		splashDelay: SplashDelay,
		city:        city,
		system:      prefs.Default(),
		loading:     true,
		spinner:     s,
		input:       in,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.Tick(m.splashDelay, func(time.Time) tea.Msg { return splashDoneMsg{} }),
		m.spinner.Tick,
		m.waitForUnits(),
	)
}

// waitForUnits delivers the next preference list from Watch. The stored unit drives
// the first fetch, so nothing loads until the first list arrives.
func (m Model) waitForUnits() tea.Cmd {
	ch := m.updates
	return func() tea.Msg {
		prefs, ok := <-ch
		if !ok {
			return nil
		}
		return unitsMsg{prefs: prefs}
	}
}

func (m Model) fetch() tea.Cmd {
	ctx, src, city, system := m.ctx, m.forecasts, m.city, m.system
	return func() tea.Msg {
		f, err := src.GetForecast(ctx, city, system)
		return forecastMsg{city: city, system: system, forecast: f, err: err}
	}
}

func (m Model) save(system units.System) tea.Cmd {
	ctx, prefs := m.ctx, m.prefs
	return func() tea.Msg {
		_, err := prefs.Save(ctx, system)
		return savedMsg{system: system, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case splashDoneMsg:
		if m.screen == screenSplash {
			m.screen = screenMain
		}
		return m, nil

	case unitsMsg:
		system := units.FromPreferences(msg.prefs, m.prefs.Default())
		first := !m.unitsRead
		m.unitsRead = true
		if !first && system == m.system {
			return m, m.waitForUnits()
		}
		m.system = system
		m.loading = true
		return m, tea.Batch(m.waitForUnits(), m.fetch(), m.spinner.Tick)

	case forecastMsg:
		// A response for a city or unit the user has since moved away from is dropped.
		if msg.city != m.city || msg.system != m.system {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			m.logger.Warn("forecast fetch failed", zap.String("city", msg.city), zap.Error(msg.err))
			return m, nil
		}
		m.err = nil
		v := view.Build(msg.forecast)
		m.forecast = &v
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.status = "Could not save units: " + msg.err.Error()
			m.logger.Error("save unit preference failed", zap.Error(msg.err))
			return m, nil
		}
		m.status = "Saved " + msg.system.Choice()
		m.screen = screenMain
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenSplash:
			m.screen = screenMain
			return m, nil
		case screenMain:
			return m.updateMain(msg)
		case screenSettings:
			return m.updateSettings(msg)
		case screenSearch:
			return m.updateSearch(msg)
		}
	}

	if m.screen == screenSearch {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "s":
		m.screen = screenSettings
		m.pending = m.system
		m.status = ""
		return m, nil
	case "/":
		m.screen = screenSearch
		m.input.SetValue("")
		m.input.Focus()
		m.status = ""
		return m, textinput.Blink
	case "r":
		m.loading = true
		m.err = nil
		return m, tea.Batch(m.fetch(), m.spinner.Tick)
	}
	return m, nil
}

func (m Model) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.screen = screenMain
		return m, nil
	case " ", "t", "left", "right", "tab":
		m.pending = m.pending.Toggle()
		return m, nil
	case "enter":
		return m, m.save(m.pending)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.screen = screenMain
		return m, nil
	case "enter":
		city, err := validation.ValidateCity(m.input.Value())
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.input.Blur()
		m.screen = screenMain
		m.status = ""
		m.city = city
		m.forecast = nil
		m.err = nil
		m.loading = true
		return m, tea.Batch(m.fetch(), m.spinner.Tick)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// errorMessage is the user-facing text for a failed fetch.
func errorMessage(city string, err error) string {
	switch {
	case errors.Is(err, client.ErrCityNotFound):
		return fmt.Sprintf("City not found: %s", city)
	case errors.Is(err, client.ErrInvalidAPIKey):
		return "The weather API key was rejected."
	case errors.Is(err, context.DeadlineExceeded):
		return "The weather service took too long to answer."
	}
	return "Could not load the forecast: " + err.Error()
}

// Run starts the terminal UI on the alternate screen and blocks until the user quits.
func Run(ctx context.Context, forecasts ForecastSource, prefs Preferences, city string, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(New(ctx, forecasts, prefs, city, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
