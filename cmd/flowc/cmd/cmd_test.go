package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/profile"
)

const echoProfile = `
return {
	ip_gen = {
		client = { ip_start = "16.0.0.1", ip_end = "16.0.0.10" },
		server = { ip_start = "48.0.0.1", ip_end = "48.0.0.10" },
	},
	templates = {
		{
			client = {
				port = 7,
				program = {
					{ op = "connect" },
					{ op = "send", buf = "ping" },
					{ op = "recv", bytes = 4 },
				},
			},
			server = {
				program = {
					{ op = "accept" },
					{ op = "recv", bytes = 4 },
					{ op = "send", buf = "ping" },
				},
			},
		},
	},
}
`

func TestCompileCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "echo.lua")
	if err := os.WriteFile(src, []byte(echoProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out", "echo.json")

	rootCmd.SetArgs([]string{"compile", src, "-o", out, "--pretty"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}

	doc, err := compiler.ReadDocument(out)
	if err != nil {
		t.Fatal(err)
	}
	templates, ok := doc["templates"].([]interface{})
	if !ok || len(templates) != 1 {
		t.Fatalf("templates = %v", doc["templates"])
	}
	if bufs := doc["buf_list"].([]interface{}); len(bufs) != 1 {
		t.Errorf("buf_list has %d entries, want the shared payload once", len(bufs))
	}
}

func TestImportRejectsDescriptions(t *testing.T) {
	rootCmd.SetArgs([]string{"import", "profile.lua"})
	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "not a capture") {
		t.Errorf("import of a Lua file: %v", err)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, &profile.Stats{
		Buffers:  2,
		Programs: 2,
		Pools:    2,
		Templates: []profile.TemplateStats{
			{Index: 0, Group: "web", TotalBytes: 37, CPS: 1000, BPS: 296000},
			{Index: 1, TotalBytes: 2000, CPS: 1, BPS: 16000},
		},
		TotalCPS: 1001,
		TotalBPS: 312000,
	})

	got := buf.String()
	for _, want := range []string{"2 buffers, 2 programs, 2 address pools", "web", "37 B", "2.0 kB", "296 kbps", "1001", "312 kbps"} {
		if !strings.Contains(got, want) {
			t.Errorf("stats output misses %q:\n%s", want, got)
		}
	}
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if !strings.HasPrefix(lines[len(lines)-2], "1 ") || !strings.Contains(lines[len(lines)-2], " - ") {
		t.Errorf("unnamed group row = %q", lines[len(lines)-2])
	}
}

func TestUDPMTUFlag(t *testing.T) {
	f := rootCmd.PersistentFlags().Lookup("udp-mtu")
	if f == nil || !strings.Contains(f.Usage, "truncate") {
		t.Errorf("udp-mtu flag = %+v", f)
	}
}
