package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/runelabs/wasm-executor/executor"
	"github.com/runelabs/wasm-executor/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	rt       *executor.Runtime
	instance *executor.Instance
	cfg      executor.Config
	filename string
	result   string
	entries  []string
	input    textinput.Model
	selected int
	state    modelState
}

type modelState int

const (
	stateSelectEntry modelState = iota
	stateInputPayload
	stateShowResult
)

func newInteractiveModel(filename string, cfg executor.Config) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		cfg:      cfg,
		state:    stateSelectEntry,
	}
}

type loadedMsg struct {
	err     error
	rt      *executor.Runtime
	inst    *executor.Instance
	entries []string
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadRuntime
}

func (m *interactiveModel) loadRuntime() tea.Msg {
	ctx := context.Background()

	code, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}

	decoded, err := wasm.Decode(code)
	if err != nil {
		return loadedMsg{err: err}
	}
	entries := entryCandidates(decoded)
	sort.Strings(entries)

	rt, err := executor.NewRuntime(ctx, code, withMissingImports(m.cfg), executor.NewHostFunctionRegistry())
	if err != nil {
		return loadedMsg{err: err}
	}
	inst, err := rt.NewInstance(ctx)
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	return loadedMsg{entries: entries, rt: rt, inst: inst}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputPayload && msg.String() == "q" {
				break
			}
			ctx := context.Background()
			if m.instance != nil {
				m.instance.Close(ctx)
			}
			if m.rt != nil {
				m.rt.Close(ctx)
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectEntry && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectEntry && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectEntry:
				if len(m.entries) == 0 {
					break
				}
				m.prepareInput()
				m.state = stateInputPayload

			case stateInputPayload:
				return m, m.callEntry

			case stateShowResult:
				m.state = stateSelectEntry
				m.result = ""
				m.err = nil
			}

		case "esc":
			switch m.state {
			case stateInputPayload:
				m.state = stateSelectEntry
			case stateShowResult:
				m.state = stateSelectEntry
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.entries = msg.entries
		m.rt = msg.rt
		m.instance = msg.inst

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputPayload {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) prepareInput() {
	ti := textinput.New()
	ti.Placeholder = "hex payload, empty for none"
	ti.Prompt = "input: "
	ti.Width = 60
	ti.Focus()
	m.input = ti
}

func (m *interactiveModel) callEntry() tea.Msg {
	ctx := context.Background()

	payload, err := hex.DecodeString(strings.TrimPrefix(m.input.Value(), "0x"))
	if err != nil {
		return callResultMsg{err: fmt.Errorf("input is not valid hex: %w", err)}
	}

	out, err := m.instance.Call(ctx, executor.EntryExport{Name: m.entries[m.selected]}, payload)
	if err != nil {
		return callResultMsg{err: err}
	}
	if len(out) == 0 {
		return callResultMsg{result: "(empty output)"}
	}
	return callResultMsg{result: fmt.Sprintf("%d bytes: %s", len(out), hex.EncodeToString(out))}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.rt == nil {
		return "Loading runtime..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Executor"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectEntry:
		if len(m.entries) == 0 {
			b.WriteString("The module exports no entry points.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select an entry point to call:\n\n")
		for i, name := range m.entries {
			line := funcStyle.Render(name) + typeStyle.Render("(ptr, len) -> packed")
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputPayload:
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(m.entries[m.selected])))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(m.entries[m.selected])))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(filename string, cfg executor.Config) error {
	p := tea.NewProgram(newInteractiveModel(filename, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
