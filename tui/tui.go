package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/flowc/compiler"
)

var (
	captureTypes = []string{".pcap", ".pcapng", ".cap"}
	luaTypes     = []string{".lua"}
)

// New returns the browser model. opts is used for every profile it loads.
func New(version string, opts compiler.Options) Model {
	fb := NewFileBrowser(append(append([]string{}, captureTypes...), luaTypes...))

	return Model{
		screen:      screenSourceSelect,
		fileBrowser: fb,
		menuCursor:  0,
		version:     version,
		opts:        opts,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func Run(version string, opts compiler.Options) error {
	p := tea.NewProgram(New(version, opts), tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.logger.Close()
	}
	return err
}
