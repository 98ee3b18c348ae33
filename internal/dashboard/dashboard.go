// ABOUTME: Terminal dashboard showing connected clients and playback status
// ABOUTME: Renders periodic snapshots of the registries via bubbletea
package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/engine"
	"github.com/sendspin/sendspin-go/internal/registry"
)

// Status is a point-in-time snapshot of server state for display.
type Status struct {
	Name        string
	Port        int
	EngineState string
	AudioTitle  string
	Clients     []ClientRow
}

// ClientRow is one client's display row.
type ClientRow struct {
	Name   string
	ID     string
	Codec  string
	Roles  string
	Group  string
	Volume int
	Muted  bool
}

// Dashboard drives a bubbletea program fed by periodic snapshots.
type Dashboard struct {
	program  *tea.Program
	updates  chan Status
	quitChan chan struct{}
}

type tickMsg time.Time
type statusMsg Status

type model struct {
	status    Status
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickEvery()
	case statusMsg:
		m.status = Status(msg)
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	clientHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Sendspin Server"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Server: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Port: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Port)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Engine: "))
	b.WriteString(valueStyle.Render(m.status.EngineState))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Playing: "))
	b.WriteString(valueStyle.Render(m.status.AudioTitle))
	b.WriteString("\n\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else {
		for _, c := range m.status.Clients {
			b.WriteString(fmt.Sprintf("  - %s", c.Name))
			muted := ""
			if c.Muted {
				muted = ", muted"
			}
			b.WriteString(valueStyle.Render(fmt.Sprintf(" [%s] codec=%s group=%s vol=%d%s", c.Roles, c.Codec, c.Group, c.Volume, muted)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// New creates a dashboard.
func New() *Dashboard {
	return &Dashboard{
		updates:  make(chan Status, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start runs the dashboard program until the user quits. Blocks.
func (d *Dashboard) Start(name string, port int) error {
	m := model{
		status:    Status{Name: name, Port: port, AudioTitle: "Initializing...", EngineState: "stopped"},
		startTime: time.Now(),
		quitChan:  d.quitChan,
	}

	d.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range d.updates {
			if d.program != nil {
				d.program.Send(statusMsg(status))
			}
		}
	}()

	_, err := d.program.Run()
	return err
}

// Update pushes a new snapshot to the dashboard, dropping it if the
// update channel is saturated rather than blocking the caller.
func (d *Dashboard) Update(status Status) {
	select {
	case d.updates <- status:
	default:
	}
}

// Stop tears down the dashboard program.
func (d *Dashboard) Stop() {
	if d.program != nil {
		d.program.Quit()
	}
	close(d.updates)
}

// QuitChan signals when the user requested shutdown from the dashboard.
func (d *Dashboard) QuitChan() <-chan struct{} {
	return d.quitChan
}

// Snapshot builds a Status from the live registries and engine.
func Snapshot(name string, port int, eng *engine.Engine, clients *registry.ClientRegistry, groups *registry.GroupRegistry, source audio.Source) Status {
	rows := make([]ClientRow, 0, clients.Count())
	clients.ForEach(func(c *registry.Client) {
		groupName := ""
		if gid, ok := groups.ClientGroup(c.ID); ok {
			if g, ok := groups.Group(gid); ok {
				groupName = g.Name
			}
		}
		codec := "-"
		if c.AudioFormat != nil {
			codec = string(c.AudioFormat.Codec)
		}
		rows = append(rows, ClientRow{
			Name:   c.Name,
			ID:     c.ID,
			Codec:  codec,
			Roles:  strings.Join(c.ActiveRoles, ","),
			Group:  groupName,
			Volume: c.Volume,
			Muted:  c.Muted,
		})
	})

	audioTitle := "Test Tone (440Hz)"
	if source != nil {
		title, artist, _ := source.Metadata()
		if artist != "" {
			audioTitle = artist + " - " + title
		} else if title != "" {
			audioTitle = title
		}
	}

	engineState := "stopped"
	if eng != nil {
		switch eng.State() {
		case engine.Running:
			engineState = "running"
		case engine.Paused:
			engineState = "paused"
		}
	}

	return Status{
		Name:        name,
		Port:        port,
		EngineState: engineState,
		AudioTitle:  audioTitle,
		Clients:     rows,
	}
}
