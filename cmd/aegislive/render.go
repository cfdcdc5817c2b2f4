package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/summary"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#0F766E")).
			Padding(0, 1)

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFCC00"))

	transcriptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5EEAD4")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#0F766E")).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Bold(true)
)

// console prints session activity as it happens. Bus events arrive on one
// goroutine and fallback results on another, so writes are serialized.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *console) header(subjectID string, video bool) {
	mode := "voice"
	if video {
		mode = "voice + video"
	}
	c.println(titleStyle.Render("AegisLive") + " " + phaseStyle.Render(fmt.Sprintf("subject %s, %s", subjectID, mode)))
}

func (c *console) notice(msg string) {
	c.println(warningStyle.Render(msg))
}

// OnEvent renders one session event.
func (c *console) OnEvent(e *events.Event) {
	switch data := e.Data.(type) {
	case events.PhaseChangedData:
		c.println(renderPhase(data))
	case events.TextReceivedData:
		c.println(speakerStyle.Render("Assistant: ") + transcriptStyle.Render(data.Content))
	case events.SummaryReceivedData:
		c.println(renderSummary(data.Summary))
	case events.SessionEndedData:
		c.println(renderEnded(data))
	}
}

// OnFallback renders the outcome of the out-of-band summary lookup.
func (c *console) OnFallback(r summary.Result) {
	if r.Err != nil {
		c.println(warningStyle.Render("Summary not available: " + r.Err.Error()))
		return
	}
	c.println(renderRecord(r.Record))
}

func renderPhase(d events.PhaseChangedData) string {
	label := "● " + d.To
	switch d.To {
	case "listening", "speaking":
		return activeStyle.Render(label)
	case "error":
		return errorStyle.Render(label)
	default:
		return phaseStyle.Render(label)
	}
}

func renderEnded(d events.SessionEndedData) string {
	line := fmt.Sprintf("Session %s after %s (%s)", d.Phase, d.Duration.Round(time.Second), d.Reason)
	if d.Err != nil {
		return errorStyle.Render(line + ": " + d.Err.Error())
	}
	if d.NeedsSummaryFallback {
		line += ", waiting for the saved summary"
	}
	return phaseStyle.Render(line)
}

func renderSummary(s *transport.Summary) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(labelStyle.Render("Summary") + "\n" + s.Summary)
	if s.Insights != "" {
		b.WriteString("\n\n" + labelStyle.Render("Insights") + "\n" + s.Insights)
	}
	if v := s.Vitals; v != nil {
		var parts []string
		if v.HeartRate != nil {
			parts = append(parts, fmt.Sprintf("heart rate %.0f bpm", *v.HeartRate))
		}
		if v.SpO2Level != nil {
			parts = append(parts, fmt.Sprintf("SpO2 %.0f%%", *v.SpO2Level))
		}
		if v.SleepHours != nil {
			parts = append(parts, fmt.Sprintf("sleep %.1f h", *v.SleepHours))
		}
		if len(parts) > 0 {
			b.WriteString("\n\n" + labelStyle.Render("Vitals") + "\n" + strings.Join(parts, ", "))
		}
	}
	if len(s.Medications) > 0 {
		b.WriteString("\n\n" + labelStyle.Render("Medications"))
		for _, m := range s.Medications {
			b.WriteString(fmt.Sprintf("\n- %s (%s)", m.Name, m.Status))
		}
	}
	if s.Diagnosis != "" {
		b.WriteString("\n\n" + labelStyle.Render("Diagnosis") + "\n" + s.Diagnosis)
	}
	if s.Protocol != "" {
		b.WriteString("\n\n" + labelStyle.Render("Protocol") + "\n" + s.Protocol)
	}
	return boxStyle.Render(b.String())
}

func renderRecord(r *summary.Record) string {
	if r == nil {
		return ""
	}
	s := &transport.Summary{Summary: r.Summary, Insights: r.AIInsights}
	if r.HeartRate != nil || r.SpO2Level != nil {
		s.Vitals = &transport.Vitals{HeartRate: r.HeartRate, SpO2Level: r.SpO2Level}
	}
	return renderSummary(s)
}
