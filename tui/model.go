package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/profile"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenViewProfile
)

type sourceType int

const (
	sourceCapture sourceType = iota
	sourceLua
)

const (
	panelTemplates = iota
	panelBuffers
)

type Model struct {
	screen screen
	source sourceType

	opts     compiler.Options
	compiler *compiler.Compiler
	stats    *profile.Stats
	err      error
	status   string // outcome of the last write

	// fileBrowser for selecting captures and descriptions
	fileBrowser FileBrowser

	templateList list.Model
	bufferList   list.Model
	activePanel  int // panelTemplates or panelBuffers

	width        int
	height       int
	selectedFile string // description being edited, in the recent dir

	menuCursor int // 0: capture, 1: Lua
	activeView int // 0: lists, 1: logs viewport

	version string

	logger      *compiler.Logger
	logViewport viewport.Model
	logContent  string // cached log content for editor
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 30
	minListWidth     = 20
	footerHeight     = 3
)
