package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/lua"
	"github.com/samaelod/flowc/types"
)

func loadedModel(t *testing.T) Model {
	t.Helper()
	group := "web"
	cfg := &types.Config{
		IPGen: compiler.DefaultIPGen(),
		Templates: []types.Template{{
			TGName: &group,
			Client: types.ClientSide{Port: 8080, CPS: 2, Program: []types.Command{
				{Op: "connect"},
				{Op: "send", Buf: "GET / HTTP/1.1\r\n\r\n"},
				{Op: "recv", Bytes: 4},
			}},
			Server: types.ServerSide{Program: []types.Command{
				{Op: "accept"},
				{Op: "recv", Bytes: 18},
				{Op: "send", Buf: "pong"},
			}},
		}},
	}
	p, err := lua.Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := p.Stats()
	if err != nil {
		t.Fatal(err)
	}

	m := New("test", compiler.Options{})
	m.width, m.height = 120, 40
	next, _ := m.Update(profileLoadedMsg{
		compiler: &compiler.Compiler{Source: "web.lua", Config: cfg, Profile: p},
		stats:    stats,
		path:     "web.lua",
		reload:   true,
	})
	return next.(Model)
}

func TestSourceSelect(t *testing.T) {
	m := New("test", compiler.Options{})
	m.width, m.height = 120, 40

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	if m.menuCursor != 1 {
		t.Fatalf("menu cursor = %d, want 1", m.menuCursor)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if m.screen != screenFilePicker || m.source != sourceLua {
		t.Errorf("screen %d source %d after choosing Lua", m.screen, m.source)
	}
	if !m.fileBrowser.allowed("profile.LUA") || m.fileBrowser.allowed("http.pcap") {
		t.Errorf("Lua browser allows %v", m.fileBrowser.AllowedTypes)
	}
}

func TestProfileLoaded(t *testing.T) {
	m := loadedModel(t)
	if m.screen != screenViewProfile {
		t.Fatalf("screen = %d", m.screen)
	}
	if got := len(m.templateList.Items()); got != 1 {
		t.Fatalf("template items = %d", got)
	}
	if got := len(m.bufferList.Items()); got != 2 {
		t.Errorf("buffer items = %d, want 2", got)
	}
	if title := m.templateList.Items()[0].FilterValue(); title != "[0] web :8080 2cps" {
		t.Errorf("template title = %q", title)
	}

	details := renderTemplateDetails(m, 80, 30)
	for _, want := range []string{"web (1)", "8080 tcp", "Client program (3)", "tx(18 bytes, buf 0)", "Server program (3)", "22 B/conn, 352 bps"} {
		if !strings.Contains(details, want) {
			t.Errorf("details miss %q:\n%s", want, details)
		}
	}
	if n := strings.Count(details, "\n") + 1; n != 30 {
		t.Errorf("details have %d lines, want 30", n)
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m = next.(Model)
	if m.activePanel != panelBuffers {
		t.Fatal("right arrow did not select the buffers panel")
	}
	if buf := renderBufferDetails(m, 80, 12); !strings.Contains(buf, "18 B") {
		t.Errorf("buffer details:\n%s", buf)
	}
}

func TestUpdateMessages(t *testing.T) {
	m := loadedModel(t)

	next, _ := m.Update(writtenMsg{path: "out/web.json"})
	m = next.(Model)
	if m.status != "wrote out/web.json" || !strings.Contains(m.footer(), "wrote out/web.json") {
		t.Errorf("status = %q", m.status)
	}

	next, _ = m.Update(errMsg{errors.New("bad port")})
	m = next.(Model)
	if m.screen != screenViewProfile || !strings.Contains(renderTemplateDetails(m, 80, 5), "bad port") {
		t.Error("reload error not shown in details")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if next.(Model).activeView != 1 {
		t.Error("tab did not focus the logs")
	}
}

func TestFormatBPS(t *testing.T) {
	tests := map[float64]string{
		0:       "0 bps",
		999:     "999 bps",
		296000:  "296 kbps",
		1.5e9:   "1.5 Gbps",
		2.5e12:  "2.5 Tbps",
		1234567: "1.23 Mbps",
	}
	for in, want := range tests {
		if got := formatBPS(in); got != want {
			t.Errorf("formatBPS(%g) = %q, want %q", in, got, want)
		}
	}
}

func TestFitHeight(t *testing.T) {
	if got := fitHeight("a\nb", 4); got != "a\nb\n\n" {
		t.Errorf("padded = %q", got)
	}
	got := strings.Split(fitHeight("1\n2\n3\n4\n5", 3), "\n")
	if len(got) != 3 || got[0] != "1" || got[1] != "2" {
		t.Errorf("cut = %q", got)
	}
	if truncate("abcdef", 4) != "abc…" || truncate("abc", 4) != "abc" {
		t.Error("truncate")
	}
}
