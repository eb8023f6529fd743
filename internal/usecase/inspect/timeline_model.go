package inspect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ghchrono/internal/domain/activity"
	"ghchrono/internal/domain/interval"
	"ghchrono/internal/usecase/snapshot"
)

const maxShownEvents = 12

type Reader interface {
	Timeline(ctx context.Context, subject activity.Subject) ([]interval.Event, error)
	AttributeAsOf(ctx context.Context, subject activity.Subject, attr snapshot.Attribute, at time.Time) (snapshot.Answer, error)
}

type Options struct {
	Subject activity.Subject
	Label   string
}

type timelineModel struct {
	ctx     context.Context
	reader  Reader
	subject activity.Subject
	label   string
	attrs   []snapshot.Attribute

	events        []interval.Event
	selectedIndex int
	answers       map[snapshot.Attribute]snapshot.Answer
	status        string
}

type eventsLoadedMsg struct {
	events []interval.Event
	err    error
}

type answersLoadedMsg struct {
	eventID int64
	answers map[snapshot.Attribute]snapshot.Answer
	err     error
}

// NewTimelineModel steps through a subject's events and shows every
// applicable attribute as of the selected event.
func NewTimelineModel(ctx context.Context, reader Reader, options Options) tea.Model {
	var attrs []snapshot.Attribute
	for _, attr := range snapshot.Attributes() {
		if _, err := snapshot.FamilyFor(options.Subject.Type, attr); err == nil {
			attrs = append(attrs, attr)
		}
	}
	label := strings.TrimSpace(options.Label)
	if label == "" {
		label = fmt.Sprintf("%s %d", options.Subject.Type, options.Subject.ID)
	}
	return &timelineModel{
		ctx:     ctx,
		reader:  reader,
		subject: options.Subject,
		label:   label,
		attrs:   attrs,
		status:  "loading",
	}
}

func (m *timelineModel) Init() tea.Cmd {
	return m.loadEventsCmd()
}

func (m *timelineModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case eventsLoadedMsg:
		if msg.err != nil {
			m.status = "load events failed: " + msg.err.Error()
			return m, nil
		}
		m.events = msg.events
		if len(m.events) == 0 {
			m.selectedIndex = 0
			m.answers = nil
			m.status = "no events"
			return m, nil
		}
		if m.selectedIndex >= len(m.events) {
			m.selectedIndex = len(m.events) - 1
		}
		m.status = fmt.Sprintf("%d events", len(m.events))
		return m, m.loadAnswersCmd()
	case answersLoadedMsg:
		if selected, ok := m.selectedEvent(); !ok || selected.ID != msg.eventID {
			return m, nil
		}
		if msg.err != nil {
			m.answers = nil
			m.status = "as-of query failed: " + msg.err.Error()
			return m, nil
		}
		m.answers = msg.answers
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadEventsCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadAnswersCmd()
			}
		case "down", "j":
			if m.selectedIndex < len(m.events)-1 {
				m.selectedIndex++
				return m, m.loadAnswersCmd()
			}
		case "home":
			m.selectedIndex = 0
			return m, m.loadAnswersCmd()
		case "end":
			if len(m.events) > 0 {
				m.selectedIndex = len(m.events) - 1
				return m, m.loadAnswersCmd()
			}
		}
	}
	return m, nil
}

func (m *timelineModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Timeline: " + m.label))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Events"))
	builder.WriteString("\n")
	if len(m.events) == 0 {
		builder.WriteString(dimStyle.Render("- no events"))
		builder.WriteString("\n")
	} else {
		start, end := visibleWindow(len(m.events), m.selectedIndex, maxShownEvents)
		for index := start; index < end; index++ {
			ev := m.events[index]
			line := fmt.Sprintf("e%d %s %s%s", ev.ID, ev.OccurredAt.Format(time.RFC3339), ev.EventType, objectSuffix(ev))
			if index == m.selectedIndex {
				builder.WriteString(selectedStyle.Render("> " + line))
			} else {
				builder.WriteString("  " + line)
			}
			builder.WriteString("\n")
		}
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("As of selected event"))
	builder.WriteString("\n")
	if m.answers == nil {
		builder.WriteString(dimStyle.Render("- none"))
		builder.WriteString("\n")
	} else {
		for _, attr := range m.attrs {
			answer, ok := m.answers[attr]
			if !ok {
				continue
			}
			builder.WriteString(fmt.Sprintf("%-16s %s\n", attr, FormatAnswer(answer)))
		}
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + m.status)
	builder.WriteString("\n\n")
	builder.WriteString(dimStyle.Render("Keys: ↑/k ↓/j move  home/end jump  g refresh  q quit"))
	return builder.String()
}

func (m *timelineModel) selectedEvent() (interval.Event, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.events) {
		return interval.Event{}, false
	}
	return m.events[m.selectedIndex], true
}

func (m *timelineModel) loadEventsCmd() tea.Cmd {
	return func() tea.Msg {
		events, err := m.reader.Timeline(m.ctx, m.subject)
		return eventsLoadedMsg{events: events, err: err}
	}
}

func (m *timelineModel) loadAnswersCmd() tea.Cmd {
	selected, ok := m.selectedEvent()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		answers := make(map[snapshot.Attribute]snapshot.Answer, len(m.attrs))
		for _, attr := range m.attrs {
			answer, err := m.reader.AttributeAsOf(m.ctx, m.subject, attr, selected.OccurredAt)
			if err != nil {
				return answersLoadedMsg{eventID: selected.ID, err: err}
			}
			answers[attr] = answer
		}
		return answersLoadedMsg{eventID: selected.ID, answers: answers}
	}
}

// FormatAnswer renders an as-of answer on one line.
func FormatAnswer(answer snapshot.Answer) string {
	if !answer.Known {
		return "unknown"
	}
	if len(answer.Values) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(answer.Values))
	for _, v := range answer.Values {
		parts = append(parts, formatValue(answer.Attribute, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func formatValue(attr snapshot.Attribute, v interval.Value) string {
	switch attr {
	case snapshot.AttrState:
		return v.State
	case snapshot.AttrContent:
		title := firstLine(v.Title)
		if title == "" {
			title = firstLine(v.Body)
		}
		if v.State != "" {
			return fmt.Sprintf("[%s] %s", v.State, title)
		}
		return title
	case snapshot.AttrDraft:
		return fmt.Sprintf("%t", v.IsDraft)
	case snapshot.AttrHead:
		return v.SHA
	case snapshot.AttrReviewRequests:
		return v.ObjectType + ":" + v.ObjectID
	}
	return v.ObjectID
}

func objectSuffix(ev interval.Event) string {
	if ev.ObjectID == "" {
		return ""
	}
	return fmt.Sprintf(" %s=%s", ev.ObjectType, ev.ObjectID)
}

func visibleWindow(total, selected, size int) (int, int) {
	if total <= size {
		return 0, total
	}
	start := selected - size/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > total {
		end = total
		start = end - size
	}
	return start, end
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
