package tui

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/samaelod/flowc/profile"
	"github.com/samaelod/flowc/program"
)

type templateItem struct {
	index    int
	template *profile.Template
	stats    profile.TemplateStats
}

func (t templateItem) Title() string {
	group := t.template.Group
	if group == "" {
		group = "-"
	}
	return fmt.Sprintf("[%d] %s :%d %gcps", t.index, group, t.template.Server.Assoc.Port(), t.template.Client.CPS)
}
func (t templateItem) Description() string { return "" }
func (t templateItem) FilterValue() string { return t.Title() }

type bufferItem struct {
	index int
	buf   program.Buffer
}

func (b bufferItem) Title() string {
	return fmt.Sprintf("[%d] %s", b.index, humanize.Bytes(uint64(b.buf.Len())))
}
func (b bufferItem) Description() string { return "" }
func (b bufferItem) FilterValue() string { return b.Title() }

type panelDelegate struct{}

func (d panelDelegate) Height() int                               { return 1 }
func (d panelDelegate) Spacing() int                              { return 0 }
func (d panelDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d panelDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	str := listItem.FilterValue()
	if index == m.Index() {
		fmt.Fprint(w, styleSelected.Foreground(colorSecondary).Render("> "+str))
		return
	}
	fmt.Fprint(w, lipgloss.NewStyle().Foreground(colorText).Render("  "+str))
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()

	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	if thumbPos < 0 {
		thumbPos = 0
	}
	if thumbPos > trackHeight-1 {
		thumbPos = trackHeight - 1
	}

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m Model) View() string {
	var content string

	// window border, padding and margin
	windowWidth := m.width - 4
	windowHeight := m.height - 4

	if windowWidth < minWindowWidth || windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(windowWidth).Render("FLOWC " + m.version)

	switch m.screen {

	case screenSourceSelect:
		menuTitle := styleTitle.Render("Select Source")

		cardCapture, cardLua := styleMenuItem, styleMenuItem
		if m.menuCursor == 0 {
			cardCapture = styleMenuItemSelected
		} else {
			cardLua = styleMenuItemSelected
		}

		menuContent := lipgloss.JoinVertical(lipgloss.Center,
			menuTitle,
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Center,
				cardCapture.Render("Capture"),
				cardLua.Render("Lua Profile"),
			),
		)

		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.Place(
				windowWidth, windowHeight-1,
				lipgloss.Center, lipgloss.Center,
				styleMenuContainer.Render(menuContent),
			),
		)

	case screenFilePicker:
		listWidth := windowWidth / 3
		previewWidth := windowWidth - listWidth
		panelHeight := windowHeight - 1

		previewColor := colorSecondary
		if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
			if m.fileBrowser.allowed(fi.name) {
				previewColor = colorSuccess
			} else {
				previewColor = colorError
			}
		}

		browserContent := styleTitle.MarginBottom(1).Render("Select File") + "\n" + m.fileBrowser.View()
		browserView := stylePanelTitled.
			BorderForeground(colorSecondary).
			Width(listWidth - 4).
			Height(panelHeight).
			Render(browserContent)

		preview := m.fileBrowser.PreviewContent
		if m.err != nil {
			preview = styleError.Render("Error: "+m.err.Error()) + "\n\n" + preview
		}
		contentHeight := panelHeight - 5 // border, title, margin and ellipsis
		previewLines := strings.Split(preview, "\n")
		if len(previewLines) > contentHeight && contentHeight > 1 {
			previewLines = append(previewLines[:contentHeight-1], "...")
		}
		previewView := stylePanelTitled.
			BorderForeground(previewColor).
			Width(previewWidth).
			Height(panelHeight).
			Render(styleTitle.MarginBottom(1).Render("File Preview") + "\n" + strings.Join(previewLines, "\n"))

		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Top,
				appTitle,
				lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView),
			),
		)

	case screenLoading:
		content = lipgloss.Place(
			windowWidth, windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center,
				appTitle,
				"\n",
				"Compiling...",
			),
		)

	case screenViewProfile:
		availWidth := windowWidth
		availHeight := windowHeight - 1 - footerHeight

		listWidth := listWidthFor(availWidth)
		rightWidth := availWidth - listWidth
		if rightWidth < 0 {
			rightWidth = 0
		}
		detailsHeight, logsHeight := m.splitRight(availHeight)

		// left column: templates over buffers
		listHeight := (availHeight - 6) / 2
		m.templateList.SetSize(listWidth-4, listHeight)
		m.bufferList.SetSize(listWidth-4, listHeight)

		leftColumn := lipgloss.JoinVertical(lipgloss.Top,
			m.listPanel("Templates", m.templateList, panelTemplates, listWidth, listHeight),
			m.listPanel("Buffers", m.bufferList, panelBuffers, listWidth, listHeight),
		)

		detailsContentHeight := detailsHeight - 3
		if detailsContentHeight < 4 {
			detailsContentHeight = 4
		}
		detailsTitle := "Template"
		detailsBody := renderTemplateDetails(m, rightWidth-4, detailsContentHeight)
		if m.activePanel == panelBuffers {
			detailsTitle = "Buffer"
			detailsBody = renderBufferDetails(m, rightWidth-4, detailsContentHeight)
		}

		detailsColor := colorSuccess
		if m.err != nil {
			detailsColor = colorError
		}
		rightTop := stylePanelTitled.
			BorderForeground(detailsColor).
			Width(rightWidth).
			Height(detailsHeight).
			Render(styleTitle.MarginBottom(1).Render(detailsTitle) + "\n" + detailsBody)

		logsContentHeight := logsHeight - 6
		if logsContentHeight < 2 {
			logsContentHeight = 2
		}
		m.logViewport.Width = rightWidth - 7 // padding, border and scrollbar
		m.logViewport.Height = logsContentHeight

		logsColor := colorSubtext
		if m.activeView == 1 {
			logsColor = colorSecondary
		}
		scrollbarCol := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, logsContentHeight))
		logsContent := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
			lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbarCol)
		rightBottom := stylePanelTitled.
			BorderForeground(logsColor).
			Width(rightWidth).
			Height(logsHeight - 2).
			Render(logsContent)

		topArea := lipgloss.JoinHorizontal(lipgloss.Top,
			leftColumn,
			lipgloss.JoinVertical(lipgloss.Top, rightTop, rightBottom),
		)

		footerView := styleFooter.
			Width(windowWidth - 2).
			Render(m.footer())

		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.JoinVertical(lipgloss.Top, topArea, footerView),
		)
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) listPanel(title string, l list.Model, panel, width, height int) string {
	color := colorSubtext
	if m.activeView == 0 && m.activePanel == panel {
		color = colorSecondary
	}
	return stylePanelTitled.
		BorderForeground(color).
		Width(width - 4).
		Height(height + 2).
		Render(styleTitle.MarginBottom(1).Render(title) + "\n" + l.View())
}

func (m Model) footer() string {
	key := func(k, desc string) string {
		return styleKey.Render(k) + styleSubtext.Render(" "+desc)
	}
	sep := styleSubtext.Render(" • ")

	var hints []string
	if m.activeView == 0 {
		hints = []string{
			key("<tab>", "switch focus"),
			key("←/→", "templates/buffers"),
			key("e", "edit"),
			key("u", "update"),
			key("w", "write"),
			key("q", "quit"),
		}
	} else {
		hints = []string{
			key("<tab>", "switch focus"),
			key("e", "editor"),
			key("g", "top"),
			key("G", "bottom"),
			key("q", "quit"),
		}
	}
	footer := strings.Join(hints, sep)
	if m.status != "" {
		footer += sep + styleValue.Render(m.status)
	}
	return footer
}

// detailRows renders label/value rows with values cut to fit width.
func detailRows(width int, rows ...[2]string) string {
	valueWidth := width - 2 - styleLabel.GetWidth() - 1
	if valueWidth < 5 {
		valueWidth = 5
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, lipgloss.JoinHorizontal(lipgloss.Left,
			styleLabel.Render(r[0]),
			styleValue.Render(truncate(r[1], valueWidth)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, out...)
}

func truncate(s string, width int) string {
	if width <= 1 || len(s) <= width {
		return s
	}
	return s[:width-1] + "…"
}

// fitHeight pads or cuts content to exactly height lines.
func fitHeight(content string, height int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > height {
		lines = append(lines[:height-1], styleSubtext.Render("..."))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func renderTemplateDetails(m Model, width, height int) string {
	if m.err != nil {
		return fitHeight(styleError.Render(m.err.Error()), height)
	}
	item, ok := m.templateList.SelectedItem().(templateItem)
	if !ok {
		return fitHeight("No template selected", height)
	}
	t := item.template

	group := t.Group
	if group == "" {
		group = "(unnamed)"
	}
	pools := "profile default"
	if g := t.Client.IPGen; g != nil {
		pools = fmt.Sprintf("%s / %s", g.Client, g.Server)
	}
	transport := "udp"
	if t.Client.Program.Stream() {
		transport = "tcp"
	}

	header := detailRows(width,
		[2]string{"Group:", fmt.Sprintf("%s (%d)", group, t.GroupID())},
		[2]string{"Port:", fmt.Sprintf("%d %s", t.Server.Assoc.Port(), transport)},
		[2]string{"CPS:", fmt.Sprintf("%g", t.Client.CPS)},
		[2]string{"Pools:", pools},
		[2]string{"Load:", fmt.Sprintf("%s/conn, %s", humanize.Bytes(item.stats.TotalBytes), formatBPS(item.stats.BPS))},
	)

	lineWidth := width - 2
	var b strings.Builder
	for _, side := range []struct {
		name string
		p    *program.Program
	}{{"Client", t.Client.Program}, {"Server", t.Server.Program}} {
		b.WriteString(styleHeading.Render(fmt.Sprintf("%s program (%d)", side.name, side.p.Len())))
		b.WriteString("\n")
		for i, c := range side.p.Cmds() {
			b.WriteString(truncate(fmt.Sprintf("%3d %s", i, c), lineWidth))
			b.WriteString("\n")
		}
	}

	return fitHeight(header+"\n"+strings.TrimSuffix(b.String(), "\n"), height)
}

func renderBufferDetails(m Model, width, height int) string {
	item, ok := m.bufferList.SelectedItem().(bufferItem)
	if !ok {
		return fitHeight("No buffer selected", height)
	}
	b := item.buf

	fill := "-"
	if b.Size > len(b.Base) {
		fill = fmt.Sprintf("%s of %q up to %s", humanize.Bytes(uint64(b.Size-len(b.Base))), b.Fill, humanize.Bytes(uint64(b.Size)))
	}
	header := detailRows(width,
		[2]string{"Index:", fmt.Sprintf("%d", item.index)},
		[2]string{"Payload:", humanize.Bytes(uint64(len(b.Base)))},
		[2]string{"Fill:", fill},
	)

	dump := strings.TrimSuffix(hex.Dump(b.Base), "\n")
	lines := strings.Split(dump, "\n")
	for i, l := range lines {
		lines[i] = truncate(l, width-2)
	}
	return fitHeight(header+"\n"+styleHeading.Render("Payload")+"\n"+strings.Join(lines, "\n"), height)
}

func formatBPS(bps float64) string {
	return humanize.SIWithDigits(bps, 2, "bps")
}
