package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-weval/image"
	"github.com/wippyai/wasm-weval/module"
)

type styles struct {
	title lipgloss.Style
	name  lipgloss.Style
	value lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{title: s, name: s, value: s, muted: s, ok: s, err: s}
}

func colorStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		name:  lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}
}

func nonZero(b []byte) int {
	n := 0
	for _, c := range b {
		if c != 0 {
			n++
		}
	}
	return n
}

func summarize(w io.Writer, s styles, filename string, l *loaded) {
	im := l.image
	fmt.Fprintf(w, "%s %s\n", s.title.Render("Module image"), filename)

	fmt.Fprintf(w, "\nMemories: %d\n", len(im.Memories))
	for _, id := range im.MemoryIDs() {
		mem, _ := im.Memory(id)
		fmt.Fprintf(w, "  %s  %s pages, %s non-zero bytes\n",
			s.name.Render(id.String()),
			s.value.Render(fmt.Sprint(mem.Len/image.PageSize)),
			s.value.Render(fmt.Sprint(nonZero(mem.Bytes))))
	}

	fmt.Fprintf(w, "\nGlobals: %d known of %d\n", len(im.Globals), len(l.module.Globals))
	globals := make([]module.Global, 0, len(im.Globals))
	for id := range im.Globals {
		globals = append(globals, id)
	}
	slices.Sort(globals)
	for _, id := range globals {
		fmt.Fprintf(w, "  %s  %s\n", s.name.Render(id.String()), s.value.Render(im.Globals[id].String()))
	}

	fmt.Fprintf(w, "\nTables: %d\n", len(im.Tables))
	for i := range l.module.Tables {
		id := module.Table(i)
		elems := im.Tables[id]
		holes := 0
		for _, f := range elems {
			if !f.IsValid() {
				holes++
			}
		}
		fmt.Fprintf(w, "  %s  %d elements, %d empty\n", s.name.Render(id.String()), len(elems), holes)
	}

	fmt.Fprintf(w, "\nRoles:\n")
	if heap, err := im.MainHeap(); err == nil {
		fmt.Fprintf(w, "  main heap      %s\n", s.value.Render(heap.String()))
	} else {
		fmt.Fprintf(w, "  main heap      %s\n", s.muted.Render("none"))
	}
	if sp, ok := im.StackPointer(); ok {
		fmt.Fprintf(w, "  stack pointer  %s\n", s.value.Render(sp.String()))
	} else {
		fmt.Fprintf(w, "  stack pointer  %s\n", s.muted.Render("none"))
	}
	if tbl, ok := im.MainTable(); ok {
		fmt.Fprintf(w, "  main table     %s\n", s.value.Render(tbl.String()))
	} else {
		fmt.Fprintf(w, "  main table     %s\n", s.muted.Render("none"))
	}

	fmt.Fprintf(w, "\nIntrinsics: %d\n", l.hooks.Len())
	l.hooks.Each(func(name string, f module.Func) {
		fmt.Fprintf(w, "  %-32s %s\n", s.name.Render(name), s.value.Render(f.String()))
	})

	if len(l.consts) > 0 {
		fmt.Fprintf(w, "\nConstants:\n")
		for _, c := range l.consts {
			var v string
			switch {
			case c.err != nil:
				v = s.err.Render(c.err.Error())
			case !c.found:
				v = s.muted.Render("not constant")
			default:
				v = s.value.Render(fmt.Sprintf("%d (0x%x)", c.value, c.value))
			}
			fmt.Fprintf(w, "  %s  %s\n", s.name.Render(c.name), v)
		}
	}
}

// hexRows formats rows lines of 16 bytes starting at addr. Addresses past
// the end of the memory are left out.
func hexRows(mem *image.MemImage, addr uint32, rows int) []string {
	var out []string
	for r := 0; r < rows; r++ {
		start := uint64(addr) + uint64(r)*16
		if start >= uint64(mem.Len) {
			break
		}
		end := min(start+16, uint64(mem.Len))
		line := mem.Bytes[start:end]

		var hex, text strings.Builder
		for i, b := range line {
			if i == 8 {
				hex.WriteByte(' ')
			}
			fmt.Fprintf(&hex, "%02x ", b)
			if b >= 0x20 && b < 0x7f {
				text.WriteByte(b)
			} else {
				text.WriteByte('.')
			}
		}
		out = append(out, fmt.Sprintf("%08x  %-49s |%s|", start, hex.String(), text.String()))
	}
	return out
}
