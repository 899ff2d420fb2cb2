package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/samaelod/flowc/pcapreader"
	"github.com/samaelod/flowc/types"
)

type FileBrowser struct {
	List           list.Model
	CurrentDir     string
	Selected       string
	PreviewContent string
	Height         int
	Width          int
	Err            error
	AllowedTypes   []string

	previewPath string // file PreviewContent was built for
}

type fileItem struct {
	name  string
	path  string
	isDir bool
	info  os.FileInfo
}

func (i fileItem) Title() string {
	if i.isDir {
		return i.name + "/"
	}
	return i.name
}
func (i fileItem) Description() string {
	if i.isDir {
		return "Directory"
	}
	return "File • " + humanize.Bytes(uint64(i.info.Size()))
}
func (i fileItem) FilterValue() string { return i.name }

type browserDelegate struct {
	allowed func(name string) bool
}

func (d browserDelegate) Height() int                               { return 1 }
func (d browserDelegate) Spacing() int                              { return 0 }
func (d browserDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d browserDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(fileItem)
	if !ok {
		return
	}

	str := i.Title()
	var style lipgloss.Style
	switch {
	case index == m.Index():
		style = styleSelected.Foreground(colorSecondary)
		str = "> " + str
	case i.isDir:
		style = lipgloss.NewStyle().Foreground(colorText).Bold(true)
		str = "  " + str
	case d.allowed(i.name):
		style = lipgloss.NewStyle().Foreground(colorPrimary)
		str = "  " + str
	default:
		style = lipgloss.NewStyle().Foreground(colorSubtext).Faint(true)
		str = "  " + str
	}

	fmt.Fprint(w, style.Render(str))
}

func NewFileBrowser(allowedTypes []string) FileBrowser {
	cwd, _ := os.Getwd()

	fb := FileBrowser{
		CurrentDir:   cwd,
		AllowedTypes: allowedTypes,
	}

	l := list.New([]list.Item{}, browserDelegate{allowed: fb.allowed}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = styleTitle
	fb.List = l

	fb.refreshDir()
	return fb
}

// allowed reports whether name has one of the browsable extensions.
func (fb FileBrowser) allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, t := range fb.AllowedTypes {
		if ext == strings.ToLower(t) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) refreshDir() {
	entries, err := os.ReadDir(fb.CurrentDir)
	if err != nil {
		fb.Err = err
		return
	}

	items := []list.Item{}
	if filepath.Dir(fb.CurrentDir) != fb.CurrentDir {
		items = append(items, fileItem{name: "..", path: filepath.Dir(fb.CurrentDir), isDir: true})
	}

	// directories first
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, fileItem{
			name:  e.Name(),
			path:  filepath.Join(fb.CurrentDir, e.Name()),
			isDir: e.IsDir(),
			info:  info,
		})
	}

	fb.List.SetItems(items)
	fb.updatePreview()
}

func (fb *FileBrowser) updatePreview() {
	fi, ok := fb.List.SelectedItem().(fileItem)
	if !ok {
		fb.PreviewContent = ""
		fb.previewPath = ""
		return
	}
	if fi.path == fb.previewPath {
		return
	}
	fb.previewPath = fi.path

	if fi.isDir {
		fb.PreviewContent = "Directory: " + fi.name
		return
	}
	fb.Selected = fi.path

	if !fb.allowed(fi.name) {
		fb.PreviewContent = "File type not supported."
		return
	}

	var content string
	if strings.EqualFold(filepath.Ext(fi.name), ".lua") {
		data, err := os.ReadFile(fi.path)
		if err != nil {
			content = "Error reading file: " + err.Error()
		} else {
			content = string(data)
		}
	} else {
		content = capturePreview(fi.path, fi.info.Size())
	}

	lines := strings.Split(content, "\n")
	maxLines := fb.Height
	if maxLines <= 0 {
		maxLines = 10
	}
	if len(lines) > maxLines {
		content = strings.Join(lines[:maxLines], "\n") + "\n... (truncated)"
	}
	fb.PreviewContent = content
}

// capturePreview summarizes the flow a capture would be imported as.
func capturePreview(path string, size int64) string {
	tr, err := pcapreader.ReadTrace(path)
	if err != nil {
		return fmt.Sprintf("Capture file\nSize: %s\n\n%v", humanize.Bytes(uint64(size)), err)
	}

	transport := "udp"
	if tr.Stream {
		transport = "tcp"
	}
	var sent [2]int
	var pkts [2]int
	for _, p := range tr.Packets {
		i := 0
		if p.Dir == types.SideServer {
			i = 1
		}
		sent[i] += len(p.Payload)
		pkts[i]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Capture file\nSize: %s\n\n", humanize.Bytes(uint64(size)))
	fmt.Fprintf(&b, "Transport:   %s\n", transport)
	fmt.Fprintf(&b, "Server port: %d\n", tr.DstPort)
	fmt.Fprintf(&b, "Client:      %d packets, %s\n", pkts[0], humanize.Bytes(uint64(sent[0])))
	fmt.Fprintf(&b, "Server:      %d packets, %s\n", pkts[1], humanize.Bytes(uint64(sent[1])))
	return b.String()
}

func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	var cmd tea.Cmd
	fb.List, cmd = fb.List.Update(msg)
	fb.updatePreview()

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			// files are picked up by the model
			if fi, ok := fb.List.SelectedItem().(fileItem); ok && fi.isDir {
				fb.CurrentDir = fi.path
				fb.refreshDir()
				fb.List.ResetSelected()
				fb.updatePreview()
			}
		case "backspace", "left":
			parent := filepath.Dir(fb.CurrentDir)
			if parent != fb.CurrentDir {
				fb.CurrentDir = parent
				fb.refreshDir()
				fb.List.ResetSelected()
				fb.updatePreview()
			}
		}
	}

	return fb, cmd
}

func (fb *FileBrowser) SetSize(width, height int) {
	fb.Width = width
	fb.Height = height
	fb.List.SetSize(width, height)
}

func (fb FileBrowser) View() string {
	return fb.List.View()
}
