package profile_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/samaelod/flowc/cache"
	"github.com/samaelod/flowc/ipgen"
	"github.com/samaelod/flowc/profile"
	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

func defaultGen(t *testing.T) *ipgen.Gen {
	t.Helper()
	g, err := ipgen.FromConfig(types.IPGen{
		Client: types.Pool{IPStart: "16.0.0.1", IPEnd: "16.0.0.255"},
		Server: types.Pool{IPStart: "48.0.0.1", IPEnd: "48.0.255.255"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func groupName(s string) *string { return &s }

func httpTemplate(t *testing.T, port int, group string) *profile.Template {
	t.Helper()
	var g *string
	if group != "" {
		g = groupName(group)
	}
	c := program.New(true)
	c.Send([]byte("GET"), 0, nil)
	c.Recv(2, false)
	s := program.New(true)
	s.Recv(3, false)
	s.Send([]byte("OK"), 0, nil)
	tmpl, err := profile.NewTemplate(
		&profile.ClientTemplate{Program: c, CPS: 1, Port: port},
		&profile.ServerTemplate{Program: s, Assoc: profile.Association{{Port: port}}},
		g,
	)
	if err != nil {
		t.Fatal(err)
	}
	return tmpl
}

func TestDocumentJSON(t *testing.T) {
	p, err := profile.New(profile.Options{
		IPGen:     defaultGen(t),
		Templates: []*profile.Template{httpTemplate(t, 80, "")},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"buf_list":["R0VU","T0s="],` +
		`"ip_gen_dist_list":[{"ip_start":"16.0.0.1","ip_end":"16.0.0.255","distribution":"seq","dir":"c","ip_offset":"1.0.0.0"},` +
		`{"ip_start":"48.0.0.1","ip_end":"48.0.255.255","distribution":"seq","dir":"s","ip_offset":"1.0.0.0"}],` +
		`"program_list":[{"commands":[{"buf_index":0,"name":"tx"},{"min_bytes":2,"name":"rx"}]},` +
		`{"commands":[{"min_bytes":3,"name":"rx"},{"buf_index":1,"name":"tx"}]}],` +
		`"templates":[{"client_template":{"program_index":0,"ip_gen":{"dist_client":{"index":0},"dist_server":{"index":1}},"cluster":{},"port":80,"cps":1},` +
		`"server_template":{"program_index":1,"assoc":[{"port":80}]}}],` +
		`"tg_names":[]}`
	if string(b) != want {
		t.Errorf("document:\n%s\nwant:\n%s", b, want)
	}

	// a second serialization rebuilds the caches to the same state
	again, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(b) {
		t.Error("serialization is not stable")
	}
}

func TestIdenticalClientProgramsCollapse(t *testing.T) {
	a := httpTemplate(t, 80, "")
	b := httpTemplate(t, 8080, "")
	p, err := profile.New(profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := p.Document()
	if err != nil {
		t.Fatal(err)
	}
	if doc.ProgramList.Len() != 2 {
		t.Errorf("program_list has %d entries, want 2", doc.ProgramList.Len())
	}
	ac, as := a.ProgramIndices()
	bc, bs := b.ProgramIndices()
	if ac != bc || as != bs {
		t.Errorf("indices = (%d,%d) and (%d,%d)", ac, as, bc, bs)
	}
	if doc.BufList.Len() != 2 {
		t.Errorf("buf_list has %d entries, want 2", doc.BufList.Len())
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		opts func(t *testing.T) profile.Options
		want error
	}{
		{"empty", func(t *testing.T) profile.Options { return profile.Options{IPGen: defaultGen(t)} }, program.ErrInvalidArgument},
		{"no ip gen", func(t *testing.T) profile.Options {
			return profile.Options{Templates: []*profile.Template{httpTemplate(t, 80, "")}}
		}, program.ErrInvalidArgument},
		{"duplicate port", func(t *testing.T) profile.Options {
			return profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{
				httpTemplate(t, 80, ""), httpTemplate(t, 80, ""),
			}}
		}, program.ErrInvalidArgument},
		{"caps without reader", func(t *testing.T) profile.Options {
			return profile.Options{IPGen: defaultGen(t), Caps: []*profile.CapInfo{{File: "a.pcap"}}}
		}, program.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := profile.New(tt.opts(t)); !errors.Is(err, tt.want) {
				t.Errorf("New() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSharedPortWithRangeRule(t *testing.T) {
	a := httpTemplate(t, 80, "")
	b := httpTemplate(t, 80, "")
	b.Server.Assoc = profile.Association{{Port: 80, IPStart: "48.0.0.1", IPEnd: "48.0.0.9"}}
	if _, err := profile.New(profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{a, b}}); err != nil {
		t.Errorf("range restricted association rejected: %v", err)
	}
}

func TestNewTemplateChecks(t *testing.T) {
	c, s := program.New(true), program.New(false)
	_, err := profile.NewTemplate(&profile.ClientTemplate{Program: c}, &profile.ServerTemplate{Program: s}, nil)
	if !errors.Is(err, program.ErrTransportModeConflict) {
		t.Errorf("mixed transports = %v", err)
	}
	for _, name := range []string{"", strings.Repeat("g", 21)} {
		_, err = profile.NewTemplate(&profile.ClientTemplate{Program: c}, &profile.ServerTemplate{Program: program.New(true)}, groupName(name))
		if !errors.Is(err, program.ErrInvalidArgument) {
			t.Errorf("group name %q = %v", name, err)
		}
	}
}

func TestTemplateGroups(t *testing.T) {
	web1 := httpTemplate(t, 80, "web")
	video := httpTemplate(t, 81, "video")
	web2 := httpTemplate(t, 82, "web")
	plain := httpTemplate(t, 83, "")
	// the unnamed template switches flows over to the video group
	plain.Client.Program.SetNextTemplate("video")

	p, err := profile.New(profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{web1, video, web2, plain}})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{1, 2, 1, 0} {
		if got := p.Templates[i].GroupID(); got != want {
			t.Errorf("template %d group id = %d, want %d", i, got, want)
		}
	}
	doc, err := p.Document()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(doc.TGNames) != "[web video]" {
		t.Errorf("tg_names = %v", doc.TGNames)
	}
	last := plain.Client.Program.Cmds()[2]
	if !last.Group.Resolved() || last.Group.ID != 2 {
		t.Errorf("set_template group = %+v, want 2", last.Group)
	}

	b, err := json.Marshal(plain)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "tg_id") {
		t.Errorf("unnamed group serialized a tg_id: %s", b)
	}
	b, err = json.Marshal(video)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(b), `"tg_id":2}`) {
		t.Errorf("video template = %s", b)
	}
}

func TestUnknownGroupFailsFill(t *testing.T) {
	tmpl := httpTemplate(t, 80, "")
	tmpl.Client.Program.SetNextTemplate("nope")
	p, err := profile.New(profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{tmpl}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Document(); !errors.Is(err, program.ErrUnknownTemplateGroup) {
		t.Errorf("Document() = %v, want ErrUnknownTemplateGroup", err)
	}
}

func TestOverlappingPoolsFailFill(t *testing.T) {
	a := httpTemplate(t, 80, "")
	b := httpTemplate(t, 81, "")
	g, err := ipgen.FromConfig(types.IPGen{
		Client: types.Pool{IPStart: "16.0.0.100", IPEnd: "16.0.1.0"},
		Server: types.Pool{IPStart: "48.0.0.1", IPEnd: "48.0.255.255"},
	})
	if err != nil {
		t.Fatal(err)
	}
	b.Client.IPGen = g
	p, err := profile.New(profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Document(); !errors.Is(err, cache.ErrOverlappingAddressPools) {
		t.Errorf("Document() = %v, want ErrOverlappingAddressPools", err)
	}
}

type traces map[string]*types.Trace

func (tr traces) reader() profile.TraceReader {
	return profile.TraceReaderFunc(func(path string) (*types.Trace, error) {
		t, ok := tr[path]
		if !ok {
			return nil, fmt.Errorf("no trace %q", path)
		}
		// every read gets its own copy, like reading the file again
		cp := *t
		cp.Packets = append([]types.Packet(nil), t.Packets...)
		return &cp, nil
	})
}

func streamTrace(port, req, resp int) *types.Trace {
	return &types.Trace{Stream: true, DstPort: port, Packets: []types.Packet{
		{Payload: make([]byte, req), Dir: types.SideClient},
		{Payload: make([]byte, resp), Dir: types.SideServer},
	}}
}

func TestL7Percent(t *testing.T) {
	tr := traces{
		"small.pcap": streamTrace(80, 20, 80),    // 100 bytes
		"large.pcap": streamTrace(443, 100, 200), // 300 bytes
	}
	p, err := profile.New(profile.Options{
		IPGen:  defaultGen(t),
		Traces: tr.reader(),
		Caps: []*profile.CapInfo{
			{File: "small.pcap", L7Percent: 50},
			{File: "large.pcap", L7Percent: 50},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	// small: 50 / 25 = 2, large: 50 / 75 = 2/3, scaled by 3/2
	want := []float64{3, 1}
	for i, w := range want {
		if got := p.Templates[i].Client.CPS; math.Abs(got-w) > 1e-9 {
			t.Errorf("template %d cps = %g, want %g", i, got, w)
		}
	}
	if p.Templates[1].Client.Port != 443 || p.Templates[1].Server.Assoc.Port() != 443 {
		t.Error("destination port not taken from the capture")
	}
}

func TestCapErrors(t *testing.T) {
	tr := traces{
		"a.pcap": streamTrace(80, 10, 10),
		"b.pcap": streamTrace(81, 10, 10),
		"c.pcap": streamTrace(80, 10, 10),
	}
	tests := []struct {
		name string
		caps []*profile.CapInfo
	}{
		{"cps and l7", []*profile.CapInfo{{File: "a.pcap", CPS: 1, L7Percent: 100}}},
		{"port and assoc", []*profile.CapInfo{{File: "a.pcap", Port: 1, Assoc: profile.Association{{Port: 2}}}}},
		{"mixed modes", []*profile.CapInfo{{File: "a.pcap", L7Percent: 100}, {File: "b.pcap", CPS: 1}}},
		{"bad sum", []*profile.CapInfo{{File: "a.pcap", L7Percent: 60}, {File: "b.pcap", L7Percent: 60}}},
		{"same port", []*profile.CapInfo{{File: "a.pcap"}, {File: "c.pcap"}}},
		{"long group", []*profile.CapInfo{{File: "a.pcap", Group: groupName(strings.Repeat("x", 21))}}},
		{"empty group", []*profile.CapInfo{{File: "a.pcap", Group: groupName("")}}},
		{"bad server delay", []*profile.CapInfo{{File: "a.pcap", ServerDelay: program.NewConnect()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := profile.New(profile.Options{IPGen: defaultGen(t), Traces: tr.reader(), Caps: tt.caps})
			if !errors.Is(err, program.ErrInvalidArgument) {
				t.Errorf("New() = %v, want ErrInvalidArgument", err)
			}
		})
	}

	// a port override frees the capture port
	_, err := profile.New(profile.Options{IPGen: defaultGen(t), Traces: tr.reader(), Caps: []*profile.CapInfo{
		{File: "a.pcap"}, {File: "c.pcap", Port: 8080},
	}})
	if err != nil {
		t.Errorf("port override: %v", err)
	}
}

func TestCapKeepalive(t *testing.T) {
	tr := traces{"dns.pcap": {DstPort: 53, Packets: []types.Packet{
		{Payload: []byte("q1"), Dir: types.SideClient},
		{Payload: []byte("q2"), Delta: 600 * time.Millisecond, Dir: types.SideClient},
		{Payload: []byte("r"), Delta: time.Millisecond, Dir: types.SideServer},
	}}}
	p, err := profile.New(profile.Options{IPGen: defaultGen(t), Traces: tr.reader(), Caps: []*profile.CapInfo{{File: "dns.pcap"}}})
	if err != nil {
		t.Fatal(err)
	}
	c, s := p.Templates[0].Client.Program, p.Templates[0].Server.Program
	if ka := s.Keepalive(); ka == nil || ka.Msec != 1200000 {
		t.Fatalf("server keepalive = %v", ka)
	}
	n := 0
	for _, cmd := range c.Cmds() {
		if cmd.Kind == program.KindKeepalive {
			n++
		}
	}
	if n != 1 {
		t.Errorf("client has %d keepalives, want 1", n)
	}
	if _, err := p.Document(); err != nil {
		t.Errorf("Document() = %v", err)
	}
}

func TestServerDelayDefault(t *testing.T) {
	tr := traces{
		"a.pcap": streamTrace(80, 10, 10),
		"b.pcap": streamTrace(81, 10, 10),
	}
	own, err := program.NewDelayRand(10, 20)
	if err != nil {
		t.Fatal(err)
	}
	p, err := profile.New(profile.Options{
		IPGen:       defaultGen(t),
		Traces:      tr.reader(),
		ServerDelay: program.NewDelay(100),
		Caps:        []*profile.CapInfo{{File: "a.pcap"}, {File: "b.pcap", ServerDelay: own}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []program.Kind{program.KindDelay, program.KindDelayRand} {
		if got := p.Templates[i].Server.Program.Cmds()[1].Kind; got != want {
			t.Errorf("template %d server delay = %s, want %s", i, got, want)
		}
	}
}

func TestStats(t *testing.T) {
	a := httpTemplate(t, 80, "")
	b := httpTemplate(t, 81, "web")
	b.Client.CPS = 10
	p, err := profile.New(profile.Options{IPGen: defaultGen(t), Templates: []*profile.Template{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Buffers != 2 || s.Programs != 2 || s.Pools != 2 {
		t.Errorf("counts = %d buffers, %d programs, %d pools", s.Buffers, s.Programs, s.Pools)
	}
	// 3 bytes out, 2 bytes back
	if s.Templates[1].TotalBytes != 5 || s.Templates[1].BPS != 400 {
		t.Errorf("template 1 = %+v", s.Templates[1])
	}
	if s.TotalCPS != 11 || s.TotalBPS != 440 {
		t.Errorf("totals = %g cps, %g bps", s.TotalCPS, s.TotalBPS)
	}
}

func TestNormalizeGlobInfo(t *testing.T) {
	in := types.GlobInfo{"tcp": {
		"mss":       float64(1400),
		"rxbufsize": float64(0.5),
		"opts":      map[interface{}]interface{}{"ts": float64(1)},
	}}
	out, err := profile.NormalizeGlobInfo(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"tcp":{"mss":1400,"opts":{"ts":1},"rxbufsize":0.5}}` {
		t.Errorf("glob info = %s", b)
	}

	bad := types.GlobInfo{"ip": {"x": map[interface{}]interface{}{1.0: "y"}}}
	if _, err := profile.NormalizeGlobInfo(bad); !errors.Is(err, program.ErrInvalidArgument) {
		t.Errorf("numeric key = %v", err)
	}
}
