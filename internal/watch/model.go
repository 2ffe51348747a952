// Package watch is a terminal dashboard for a running estimator.
package watch

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/banshee-data/egomotion/internal/pipeline"
	"github.com/banshee-data/egomotion/internal/units"
)

var (
	docStyle   = lipgloss.NewStyle().Margin(1, 2)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// TickMsg refreshes the age display between estimates.
type TickMsg time.Time

// EstimateMsg carries one streamed estimate.
type EstimateMsg pipeline.Estimate

// ClosedMsg reports the end of the stream.
type ClosedMsg struct{ Err error }

func tickEvery() tea.Cmd {
	return tea.Every(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// waitForEstimate blocks on the next estimate. Only one is ever in flight,
// so estimates are rendered in order.
func waitForEstimate(ch <-chan pipeline.Estimate, errc <-chan error) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			select {
			case err := <-errc:
				return ClosedMsg{Err: err}
			default:
				return ClosedMsg{}
			}
		}
		return EstimateMsg(e)
	}
}

// Model renders the latest estimate and running counters.
type Model struct {
	addr       string
	estimates  <-chan pipeline.Estimate
	errc       <-chan error
	staleAfter time.Duration
	spinner    spinner.Model

	latest    pipeline.Estimate
	has       bool
	lastSeen  time.Time
	now       time.Time
	received  uint64
	corrected uint64
	spikes    uint64
	closed    bool
	err       error
}

// NewModel returns a model fed from estimates. errc, if non-nil, is read
// once estimates closes to explain why.
func NewModel(addr string, estimates <-chan pipeline.Estimate, errc <-chan error, staleAfter time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		addr:       addr,
		estimates:  estimates,
		errc:       errc,
		staleAfter: staleAfter,
		spinner:    s,
		now:        time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEstimate(m.estimates, m.errc), tickEvery(), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case EstimateMsg:
		e := pipeline.Estimate(msg)
		m.latest, m.has = e, true
		m.lastSeen = m.now
		m.received++
		if e.Report.GpsCorrected {
			m.corrected++
		}
		if e.Report.Rejected != 0 {
			m.spikes++
		}
		return m, waitForEstimate(m.estimates, m.errc)
	case ClosedMsg:
		m.closed = true
		m.err = msg.Err
		return m, nil
	case TickMsg:
		m.now = time.Time(msg)
		return m, tickEvery()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func yesNo(v bool) string {
	if v {
		return okStyle.Render("yes")
	}
	return warnStyle.Render("no")
}

func (m Model) status() string {
	switch {
	case m.closed && m.err != nil:
		return errStyle.Render("stream ended: " + m.err.Error())
	case m.closed:
		return warnStyle.Render("stream ended")
	case !m.has:
		return m.spinner.View() + " waiting for estimates"
	case m.staleAfter > 0 && m.now.Sub(m.lastSeen) > m.staleAfter:
		return warnStyle.Render(fmt.Sprintf("stale (%.1fs since last estimate)", m.now.Sub(m.lastSeen).Seconds()))
	}
	return okStyle.Render("live")
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("egomotion · "+m.addr) + "\n")
	b.WriteString(m.status() + "\n\n")

	if m.has {
		e := m.latest
		r := e.Record
		b.WriteString(row("run", e.RunID) + "\n")
		b.WriteString(row("seq", fmt.Sprintf("%d", e.Seq)) + "\n")
		b.WriteString(row("t", fmt.Sprintf("%.0f ms", e.TimeMs)) + "\n")
		b.WriteString(row("speed", fmt.Sprintf("%6.2f m/s  %6.1f %s", e.Speed(), units.ConvertSpeed(e.Speed(), units.KMPH), units.Label(units.KMPH))) + "\n")
		b.WriteString(row("velocity", fmt.Sprintf("%6.2f, %6.2f m/s", r.VelocityX, r.VelocityY)) + "\n")
		b.WriteString(row("accel", fmt.Sprintf("%6.2f, %6.2f m/s²", r.AccelerationX, r.AccelerationY)) + "\n")
		b.WriteString(row("heading", fmt.Sprintf("%7.2f°  (compass %5.1f°)", r.Heading, units.CompassHeading(r.Heading))) + "\n")
		b.WriteString(row("gps fresh", yesNo(e.Report.GpsFresh)) + "\n")
		b.WriteString(row("corrected", yesNo(e.Report.GpsCorrected)) + "\n")
		innov := math.Hypot(e.Report.Innovation[0], e.Report.Innovation[1])
		b.WriteString(row("innovation", fmt.Sprintf("%.3f m/s", innov)) + "\n")
		rejected := okStyle.Render("none")
		if e.Report.Rejected != 0 {
			rejected = errStyle.Render(e.Report.Rejected.String())
		}
		b.WriteString(row("rejected", rejected) + "\n\n")
	}

	b.WriteString(row("received", fmt.Sprintf("%d", m.received)) + "\n")
	b.WriteString(row("corrected", fmt.Sprintf("%d", m.corrected)) + "\n")
	b.WriteString(row("spikes", fmt.Sprintf("%d", m.spikes)) + "\n\n")
	b.WriteString(helpStyle.Render("q to quit"))
	return docStyle.Render(b.String())
}
