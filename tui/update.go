package tui

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/config"
	"github.com/samaelod/flowc/lua"
	"github.com/samaelod/flowc/profile"
	"github.com/samaelod/flowc/types"
)

// startSessionLog sends every log entry of the session to a ring buffer
// shown in the logs panel and to logs/<name>.log.
func (m *Model) startSessionLog(path string) {
	appConfig, err := config.LoadDefault()
	if err != nil {
		m.err = fmt.Errorf("failed to load config: %w", err)
		return
	}

	base := filepath.Base(path)
	logPath := filepath.Join(appConfig.LogsDir, strings.TrimSuffix(base, filepath.Ext(base))+".log")

	m.logger.Close()
	m.logger = compiler.NewLogger(logPath, appConfig.LogLines)
	log.SetHandler(m.logger)
	m.opts.Log = &log.Logger{Handler: m.logger, Level: log.InfoLevel}
	log.WithField("file", path).Info("session started")
}

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "flowc-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}

	_, err = f.WriteString(logContent)
	f.Close()
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	tempPath := f.Name()

	c := exec.Command(editor(), tempPath)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		os.Remove(tempPath)
		return nil
	})
}

func editor() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "nano"
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// H - 2 (window) - 1 (safety) - 4 (panel border+padding) = H - 7
		availWidth := msg.Width - 4
		listWidth := listWidthFor(availWidth)

		m.fileBrowser.SetSize(listWidth-4, msg.Height-7)
		if m.screen == screenViewProfile {
			listHeight := (msg.Height - 7) / 2
			m.templateList.SetSize(listWidth-3, listHeight)
			m.bufferList.SetSize(listWidth-3, listHeight)

			// must match the split in View
			_, logsHeight := m.splitRight(msg.Height - 5)
			vpHeight := logsHeight - 7 // title and panel chrome
			if vpHeight < 0 {
				vpHeight = 0
			}
			m.logViewport.Width = availWidth - listWidth - 4 - 2
			m.logViewport.Height = vpHeight
		}

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}

	// results of background commands are handled on every screen
	switch msg := msg.(type) {
	case profileLoadedMsg:
		m.compiler = msg.compiler
		m.stats = msg.stats
		m.selectedFile = msg.path
		m.err = nil
		m.status = ""

		m.templateList = newPanelList(templateItems(msg.compiler.Profile, msg.stats), m.height)
		m.bufferList = newPanelList(bufferItems(msg.compiler.Profile), m.height)
		m.activePanel = panelTemplates

		m.screen = screenViewProfile
		m.logViewport = viewport.New(10, 10)
		m.logContent = m.logger.ReadAll()
		m.logViewport.SetContent(m.logContent)
		m.logViewport.GotoBottom()

		resize := func() tea.Msg { return tea.WindowSizeMsg{Width: m.width, Height: m.height} }
		if !msg.reload {
			// a reload keeps the session logger and its waiting command
			return m, tea.Batch(resize, waitForLog(m.logger))
		}
		return m, resize

	case writtenMsg:
		if msg.err != nil {
			m.status = "write failed: " + msg.err.Error()
		} else {
			m.status = "wrote " + msg.path
		}
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, loadProfileCmd(sourceLua, m.selectedFile, m.opts, false)

	case errMsg:
		m.err = msg.err
		if m.screen == screenLoading {
			m.screen = screenFilePicker
		}
		return m, nil

	case logMsg:
		if m.logger != nil {
			m.logContent = m.logger.ReadAll()
			m.logViewport.SetContent(m.logContent)
			m.logViewport.GotoBottom()
			return m, waitForLog(m.logger)
		}
		return m, nil
	}

	switch m.screen {

	case screenSourceSelect:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k", "left", "h":
				m.menuCursor--
				if m.menuCursor < 0 {
					m.menuCursor = 1
				}
			case "down", "j", "right", "l":
				m.menuCursor++
				if m.menuCursor > 1 {
					m.menuCursor = 0
				}
			case "enter":
				switch m.menuCursor {
				case 0:
					m.source = sourceCapture
					m.fileBrowser = NewFileBrowser(captureTypes)
				case 1:
					m.source = sourceLua
					m.fileBrowser = NewFileBrowser(luaTypes)
				}

				listWidth := m.width / 3
				m.fileBrowser.SetSize(listWidth-4, m.height-7)
				m.screen = screenFilePicker
				return m, nil
			}
		}
		return m, nil

	case screenFilePicker:
		var cmd tea.Cmd
		m.fileBrowser, cmd = m.fileBrowser.Update(msg)

		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
			fi, ok := m.fileBrowser.List.SelectedItem().(fileItem)
			if !ok || fi.isDir || !m.fileBrowser.allowed(fi.name) {
				return m, nil
			}

			m.err = nil
			m.startSessionLog(fi.path)
			m.screen = screenLoading
			return m, loadProfileCmd(m.source, fi.path, m.opts, true)
		}

		return m, cmd
	}

	if m.screen == screenViewProfile {
		var cmd tea.Cmd
		var cmds []tea.Cmd

		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "tab", "shift+tab":
				m.activeView = 1 - m.activeView
				return m, func() tea.Msg { return tea.WindowSizeMsg{Width: m.width, Height: m.height} }

			case "e":
				if m.activeView == 1 {
					return m, openLogsInEditor(m.logContent)
				}
				c := exec.Command(editor(), m.selectedFile)
				return m, tea.ExecProcess(c, func(err error) tea.Msg {
					return editorFinishedMsg{err}
				})
			case "u":
				if m.activeView == 0 {
					return m, loadProfileCmd(sourceLua, m.selectedFile, m.opts, false)
				}
			case "w":
				if m.activeView == 0 && m.compiler != nil {
					return m, writeProfileCmd(m.compiler, m.opts.Compress)
				}
			case "left", "h":
				if m.activeView == 0 {
					m.activePanel = panelTemplates
				}
			case "right", "l":
				if m.activeView == 0 {
					m.activePanel = panelBuffers
				}
			case "g":
				if m.activeView == 1 {
					m.logViewport.GotoTop()
				}
			case "G":
				if m.activeView == 1 {
					m.logViewport.GotoBottom()
				}
			}
		}

		if m.activeView == 0 {
			if m.activePanel == panelTemplates {
				m.templateList, cmd = m.templateList.Update(msg)
			} else {
				m.bufferList, cmd = m.bufferList.Update(msg)
			}
			cmds = append(cmds, cmd)
		} else {
			m.logViewport, cmd = m.logViewport.Update(msg)
			cmds = append(cmds, cmd)
		}

		return m, tea.Batch(cmds...)
	}

	return m, nil
}

// splitRight divides the right column between details and logs. The
// focused part gets the larger share.
func (m Model) splitRight(availHeight int) (details, logs int) {
	logs = int(float64(availHeight) * 0.4)
	if m.activeView == 1 {
		logs = int(float64(availHeight) * 0.7)
	}
	details = availHeight - logs
	if details < 10 {
		details = 10
		logs = availHeight - details
	}
	return details, logs
}

func listWidthFor(availWidth int) int {
	w := defaultListWidth
	if w > availWidth/3 {
		w = availWidth / 3
	}
	if w < minListWidth {
		w = minListWidth
	}
	return w
}

func newPanelList(items []list.Item, height int) list.Model {
	l := list.New(items, panelDelegate{}, defaultListWidth, (height-7)/2)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	return l
}

func templateItems(p *profile.Profile, stats *profile.Stats) []list.Item {
	items := make([]list.Item, 0, len(p.Templates))
	for i, t := range p.Templates {
		it := templateItem{index: i, template: t}
		if stats != nil && i < len(stats.Templates) {
			it.stats = stats.Templates[i]
		}
		items = append(items, it)
	}
	return items
}

func bufferItems(p *profile.Profile) []list.Item {
	bufs := p.Cache().Buffers.Buffers()
	items := make([]list.Item, 0, len(bufs))
	for i, b := range bufs {
		items = append(items, bufferItem{index: i, buf: b})
	}
	return items
}

// loadProfileCmd builds the profile of path. With saveCopy set the source is
// first stored in the recent directory and the copy is what gets loaded,
// edited and reloaded afterwards.
func loadProfileCmd(source sourceType, path string, opts compiler.Options, saveCopy bool) tea.Cmd {
	return func() tea.Msg {
		finalPath := path
		if saveCopy {
			var err error
			if finalPath, err = saveSource(source, path); err != nil {
				return errMsg{err}
			}
		}

		c := compiler.New(opts)
		if err := c.Load(finalPath); err != nil {
			return errMsg{err}
		}
		stats, err := c.Stats()
		if err != nil {
			return errMsg{err}
		}
		return profileLoadedMsg{compiler: c, stats: stats, path: finalPath, reload: !saveCopy}
	}
}

func saveSource(source sourceType, path string) (string, error) {
	var (
		cfg *types.Config
		err error
	)
	if source == sourceCapture {
		cfg, err = compiler.CaptureConfig(path)
	} else {
		cfg, err = lua.ReadConfig(path)
	}
	if err != nil {
		return "", err
	}
	return lua.SaveToRecent(cfg, path)
}

func writeProfileCmd(c *compiler.Compiler, compress bool) tea.Cmd {
	return func() tea.Msg {
		appConfig, err := config.LoadDefault()
		if err != nil {
			return writtenMsg{err: err}
		}
		path := compiler.OutputPath(c.Source, appConfig.OutputDir, compress)
		return writtenMsg{path: path, err: c.WriteFile(path)}
	}
}

type profileLoadedMsg struct {
	compiler *compiler.Compiler
	stats    *profile.Stats
	path     string
	reload   bool
}

type writtenMsg struct {
	path string
	err  error
}

type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type logMsg string

func waitForLog(logger *compiler.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := logger.Chan()
		if ch == nil {
			return nil
		}
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(line)
	}
}
