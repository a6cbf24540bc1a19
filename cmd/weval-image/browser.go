package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/wasm-weval/image"
	"github.com/wippyai/wasm-weval/module"
)

const browserRows = 16

type browserModel struct {
	err      error
	image    *image.Image
	filename string
	memories []module.Memory
	input    textinput.Model
	addr     uint32
	current  int
	styles   styles
}

func newBrowserModel(filename string, im *image.Image) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "hex address or sp"
	ti.Prompt = "goto: "
	ti.Width = 24
	ti.Focus()

	return &browserModel{
		filename: filename,
		image:    im,
		memories: im.MemoryIDs(),
		input:    ti,
		styles:   colorStyles(),
	}
}

func (m *browserModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *browserModel) memory() *image.MemImage {
	if len(m.memories) == 0 {
		return nil
	}
	mem, _ := m.image.Memory(m.memories[m.current])
	return mem
}

// move shifts the view by delta bytes, clamped to the memory.
func (m *browserModel) move(delta int64) {
	mem := m.memory()
	if mem == nil {
		return
	}
	last := int64(mem.Len) - browserRows*16
	next := max(min(int64(m.addr)+delta, last), 0)
	m.addr = uint32(next)
}

// jump resolves the input as a hex address or "sp", the value of the stack
// pointer global.
func (m *browserModel) jump(text string) error {
	text = strings.TrimSpace(text)
	if text == "sp" {
		sp, ok := m.image.StackPointer()
		if !ok {
			return fmt.Errorf("no stack pointer")
		}
		v, ok := m.image.Globals[sp]
		if !ok {
			return fmt.Errorf("%s has no known value", sp)
		}
		text = strconv.FormatUint(uint64(v.I32()), 16)
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(text, "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("bad address %q", text)
	}
	mem := m.memory()
	if mem == nil || addr >= uint64(mem.Len) {
		return fmt.Errorf("address 0x%x outside memory", addr)
	}
	m.addr = uint32(addr) &^ 0xF
	return nil
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "up":
			m.move(-16)
			return m, nil
		case "down":
			m.move(16)
			return m, nil
		case "pgup":
			m.move(-browserRows * 16)
			return m, nil
		case "pgdown":
			m.move(browserRows * 16)
			return m, nil
		case "tab":
			if len(m.memories) > 0 {
				m.current = (m.current + 1) % len(m.memories)
				m.addr = 0
			}
			return m, nil
		case "enter":
			m.err = m.jump(m.input.Value())
			m.input.SetValue("")
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *browserModel) View() string {
	var b strings.Builder
	s := m.styles

	b.WriteString(s.title.Render("Memory image"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	mem := m.memory()
	if mem == nil {
		b.WriteString(s.muted.Render("Module has no memories."))
		b.WriteString("\n\n")
		b.WriteString(s.muted.Render("esc quit"))
		return b.String()
	}

	id := m.memories[m.current]
	b.WriteString(fmt.Sprintf("%s  %d pages  at %s\n\n",
		s.name.Render(id.String()),
		mem.Len/image.PageSize,
		s.value.Render(fmt.Sprintf("0x%08x", m.addr))))
	for _, row := range hexRows(mem, m.addr, browserRows) {
		b.WriteString(row)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(s.err.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(s.muted.Render("↑/↓ scroll • pgup/pgdown page • tab next memory • enter goto • esc quit"))
	return b.String()
}

func runBrowser(filename string, im *image.Image) error {
	p := tea.NewProgram(newBrowserModel(filename, im), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
