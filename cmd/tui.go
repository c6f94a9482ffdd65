// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Focus states
const (
	focusParticipants = iota
	focusCommandInput
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// participant is an address seen on the bus
type participant struct {
	address   byte
	telegrams uint64
	errors    uint64
	lastSeen  time.Time
}

// Implement list.Item interface
func (p participant) Title() string {
	role := "secondary"
	if ebus.IsPrimary(p.address) {
		role = "primary"
	}
	return fmt.Sprintf("%02X %s", p.address, role)
}
func (p participant) Description() string {
	return fmt.Sprintf("%d telegrams, %d errors", p.telegrams, p.errors)
}
func (p participant) FilterValue() string { return fmt.Sprintf("%02X", p.address) }

// TUI model
type model struct {
	connInfo      string
	primary       byte
	statsInterval int
	showAll       bool
	enqueue       func(ebus.Command) error

	stats         *ebus.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	participants    map[byte]*participant
	participantList list.Model

	commandInput textinput.Model
	focusedField int

	width     int
	height    int
	quitting  bool
	busClosed bool
}

// Messages
type tickMsg time.Time
type telegramMsg struct {
	telegram         ebus.Telegram
	validationErrors []ebus.ValidationError
}
type resultMsg struct {
	command ebus.Command
}
type busClosedMsg struct {
	err error
}

func initialModel(connInfo string, primary byte, statsInterval int, showAll bool, enqueue func(ebus.Command) error) model {
	ti := textinput.New()
	ti.Placeholder = "15 0704"
	ti.Prompt = "> "
	ti.CharLimit = 64
	ti.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	participantList := list.New([]list.Item{}, delegate, 30, 10)
	participantList.Title = "Participants"
	participantList.SetShowStatusBar(false)
	participantList.SetShowHelp(false)
	participantList.SetFilteringEnabled(false)

	return model{
		connInfo:        connInfo,
		primary:         primary,
		statsInterval:   statsInterval,
		showAll:         showAll,
		enqueue:         enqueue,
		stats:           ebus.NewStatistics(),
		errorLog:        make([]errorLogEntry, 0),
		maxLogEntries:   100,
		participants:    make(map[byte]*participant),
		participantList: participantList,
		commandInput:    ti,
		focusedField:    focusParticipants,
		width:           80,
		height:          24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case tickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, tickCmd()

	case telegramMsg:
		m.processTelegram(msg.telegram, msg.validationErrors)

	case resultMsg:
		m.processResult(msg.command)

	case busClosedMsg:
		m.busClosed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Bus closed: %v", msg.err), true)
		} else {
			m.addLogEntry("Bus closed", true)
		}
	}

	return m, nil
}

func (m model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focusedField == focusCommandInput {
		switch msg.String() {
		case "tab", "esc":
			m.focusedField = focusParticipants
			m.commandInput.Blur()
			return m, nil

		case "enter":
			m.submitCommand()
			return m, nil
		}

		var cmd tea.Cmd
		m.commandInput, cmd = m.commandInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.focusedField = focusCommandInput
		return m, m.commandInput.Focus()

	case "r":
		m.stats.Reset()
		m.addLogEntry("Statistics reset", false)
		return m, nil
	}

	var cmd tea.Cmd
	m.participantList, cmd = m.participantList.Update(msg)
	return m, cmd
}

// submitCommand queues the command typed into the input
func (m *model) submitCommand() {
	line := strings.TrimSpace(m.commandInput.Value())
	if line == "" {
		return
	}
	m.commandInput.SetValue("")

	if m.busClosed {
		m.addLogEntry("Cannot send command: bus closed", true)
		return
	}

	zz, command, data, err := parseCommandLine(line)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return
	}

	c, err := ebus.NewCommand(m.primary, zz, command, data)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return
	}

	if err := m.enqueue(c); err != nil {
		m.addLogEntry(fmt.Sprintf("Cannot queue command: %v", err), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Queued %02X -> %02X cmd=%s", m.primary, zz, ebus.FormatCommand(command)), false)
}

func (m *model) processTelegram(t ebus.Telegram, validationErrors []ebus.ValidationError) {
	m.stats.Update(t, validationErrors)

	if t.State() == ebus.StateEndArbitration {
		return
	}

	failed := t.State().IsError() || len(validationErrors) > 0
	m.trackParticipant(t.QQ(), failed)
	if t.Type() != ebus.TypeBroadcast {
		m.trackParticipant(t.ZZ(), failed)
	}

	summary := fmt.Sprintf("%02X -> %02X cmd=%s", t.QQ(), t.ZZ(), ebus.FormatCommand(t.Command()))
	if t.State().IsError() {
		m.addLogEntry(fmt.Sprintf("%s: %s", ebus.FormatState(t.State()), summary), true)
	}
	for _, err := range validationErrors {
		m.addLogEntry(fmt.Sprintf("%s: %s", summary, err.Message), true)
	}
	if !failed && m.showAll {
		m.addLogEntry(fmt.Sprintf("%s (valid)", summary), false)
	}
}

func (m *model) processResult(c ebus.Command) {
	m.stats.UpdateCommand(c)
	m.addLogEntry(fmt.Sprintf("Command %02X -> %02X cmd=%s: %s (tries %d)",
		c.QQ(), c.ZZ(), ebus.FormatCommand(c.Command()), ebus.FormatState(c.State()), c.TriesUsed()),
		c.State().IsError())
}

func (m *model) trackParticipant(address byte, failed bool) {
	p, ok := m.participants[address]
	if !ok {
		p = &participant{address: address}
		m.participants[address] = p
	}
	p.telegrams++
	if failed {
		p.errors++
	}
	p.lastSeen = time.Now()
	m.updateParticipantList()
}

func (m *model) updateParticipantList() {
	addresses := make([]int, 0, len(m.participants))
	for address := range m.participants {
		addresses = append(addresses, int(address))
	}
	sort.Ints(addresses)

	items := make([]list.Item, len(addresses))
	for i, address := range addresses {
		items[i] = *m.participants[byte(address)]
	}
	m.participantList.SetItems(items)
}

func (m *model) updateListSize() {
	listHeight := m.height / 2
	if listHeight < 6 {
		listHeight = 6
	}
	m.participantList.SetSize(28, listHeight)
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("EBUSSTAT - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Address: %02X | Mode: %s | q=quit Tab=command r=reset",
		m.connInfo, m.primary, func() string {
			if m.showAll {
				return "All telegrams"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	if m.busClosed {
		s.WriteString(warningStyle.Render("Bus closed"))
		s.WriteString("\n\n")
	}

	// Statistics
	s.WriteString(boxStyle.Render(m.renderStatistics(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle)))
	s.WriteString("\n\n")

	// Participants | command input
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 20 {
		rightWidth = 20
	}

	listStyle := boxStyle.Width(leftWidth)
	inputStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusParticipants {
		listStyle = focusedBoxStyle.Width(leftWidth)
	} else {
		inputStyle = focusedBoxStyle.Width(rightWidth)
	}

	var command strings.Builder
	command.WriteString(statsLabelStyle.Render("Send command (ZZ PBSB [DATA])"))
	command.WriteString("\n")
	command.WriteString(m.commandInput.View())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Render(m.participantList.View()), " ", inputStyle.Render(command.String())))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

func (m model) renderStatistics(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle lipgloss.Style) string {
	m.stats.CalculateRates()
	var completedPercent, errorPercent float64
	if m.stats.TotalTelegrams > 0 {
		completedPercent = float64(m.stats.Completed) * 100.0 / float64(m.stats.TotalTelegrams)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalTelegrams)
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalTelegrams)),
		statsLabelStyle.Render("Completed:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Completed, completedPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.Errors(), errorPercent)),
		statsLabelStyle.Render("Arbitrations:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Arbitrations)),
	))

	if m.stats.Errors() > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Failures:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Errors())),
			headerStyle.Render("SYN"), m.stats.UnexpectedSyn,
			headerStyle.Render("req NACK"), m.stats.RequestNack,
			headerStyle.Render("resp NACK"), m.stats.ResponseNack,
			headerStyle.Render("req no ACK"), m.stats.RequestNoAck,
			headerStyle.Render("resp no ACK"), m.stats.ResponseNoAck,
		))
	}

	if m.stats.RequestCRCErrors > 0 || m.stats.ResponseCRCErrors > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Request CRC:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.RequestCRCErrors)),
			statsLabelStyle.Render("Response CRC:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ResponseCRCErrors)),
		))
	}

	if m.stats.ClampedLengths > 0 || m.stats.InvalidSources > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Clamped NN:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.ClampedLengths)),
			statsLabelStyle.Render("Invalid Source:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.InvalidSources)),
		))
	}

	if m.stats.CommandsSent > 0 || m.stats.CommandsFailed > 0 {
		content.WriteString(fmt.Sprintf("%s %s sent, %s failed\n",
			statsLabelStyle.Render("Commands:"),
			statsValueStyle.Render(fmt.Sprintf("%d", m.stats.CommandsSent)),
			errorStyle.Render(fmt.Sprintf("%d", m.stats.CommandsFailed)),
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Telegram Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tel/s", m.stats.TelegramRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	return content.String()
}

func (m model) renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Reserve space for header, statistics and participants
	logHeight := m.height - m.height/2 - 14
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("x "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("i "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	return s.String()
}
