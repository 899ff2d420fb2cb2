package program_test

import (
	"errors"
	"testing"
	"time"

	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

func pkt(dir types.Side, payload string, delta time.Duration) types.Packet {
	return types.Packet{Payload: []byte(payload), Delta: delta, Dir: dir}
}

func kinds(p *program.Program) []program.Kind {
	var out []program.Kind
	for _, c := range p.Cmds() {
		out = append(out, c.Kind)
	}
	return out
}

func sameKinds(a, b []program.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestImportMessageScenario(t *testing.T) {
	tr := &types.Trace{Packets: []types.Packet{
		pkt(types.SideClient, "A", 0),
		pkt(types.SideServer, "B", 100*time.Microsecond),
		pkt(types.SideClient, "C", 500*time.Microsecond),
	}}
	p, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideClient})
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{program.KindSendMsg, program.KindRecvMsg, program.KindDelay, program.KindSendMsg}
	if got := kinds(p); !sameKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	cmds := p.Cmds()
	if cmds[1].Watermark != 1 {
		t.Errorf("rx_msg watermark = %d, want 1", cmds[1].Watermark)
	}
	if cmds[2].Usec != 500 {
		t.Errorf("delay = %d, want 500", cmds[2].Usec)
	}
	if string(cmds[3].Buf.Base) != "C" {
		t.Errorf("last send = %q", cmds[3].Buf.Base)
	}
	if p.Stream() {
		t.Error("message trace produced a stream program")
	}
	if err := p.Compile(); err != nil {
		t.Errorf("Compile() = %v", err)
	}
}

func TestImportMessageServerSide(t *testing.T) {
	tr := &types.Trace{Packets: []types.Packet{
		pkt(types.SideClient, "A", 0),
		pkt(types.SideClient, "B", time.Millisecond),
		pkt(types.SideServer, "R", time.Millisecond),
	}}
	p, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideServer})
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{program.KindRecvMsg, program.KindSendMsg}
	if got := kinds(p); !sameKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if p.Cmds()[0].Watermark != 2 {
		t.Errorf("watermark = %d, want 2", p.Cmds()[0].Watermark)
	}
}

func TestImportDelayClamp(t *testing.T) {
	tests := []struct {
		name      string
		delta     time.Duration
		wantDelay uint64 // 0 means no delay instruction
		wantKA    []uint64
	}{
		{"below floor", 40 * time.Microsecond, 0, nil},
		{"at floor", 50 * time.Microsecond, 0, nil},
		{"normal", 300 * time.Microsecond, 300, nil},
		{"first keepalive", 600 * time.Millisecond, 600000, []uint64{1200000}},
		{"clamped", 2 * time.Second, 700000, []uint64{1400000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &types.Trace{Packets: []types.Packet{
				pkt(types.SideClient, "A", 0),
				pkt(types.SideClient, "B", tt.delta),
			}}
			p, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideClient})
			if err != nil {
				t.Fatal(err)
			}
			var (
				delay uint64
				kas   []uint64
			)
			for _, c := range p.Cmds() {
				switch c.Kind {
				case program.KindDelay:
					delay = c.Usec
				case program.KindKeepalive:
					kas = append(kas, c.Msec)
				}
			}
			if delay != tt.wantDelay {
				t.Errorf("delay = %d, want %d", delay, tt.wantDelay)
			}
			if len(kas) != len(tt.wantKA) {
				t.Fatalf("keepalives = %v, want %v", kas, tt.wantKA)
			}
			for i := range kas {
				if kas[i] != tt.wantKA[i] {
					t.Errorf("keepalives = %v, want %v", kas, tt.wantKA)
				}
			}
		})
	}
}

func TestImportSecondKeepalive(t *testing.T) {
	// a random server delay reaching 900ms triggers the post-pass keepalive
	sd, err := program.NewDelayRand(100, 1000000)
	if err != nil {
		t.Fatal(err)
	}
	tr := &types.Trace{Packets: []types.Packet{
		pkt(types.SideClient, "Q", 0),
		pkt(types.SideServer, "R", time.Millisecond),
	}}
	p, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideServer, ServerDelay: sd})
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{program.KindKeepalive, program.KindRecvMsg, program.KindDelayRand, program.KindSendMsg}
	if got := kinds(p); !sameKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if ka := p.Cmds()[0].Msec; ka != 1500 {
		t.Errorf("keepalive = %d, want 1500", ka)
	}
}

func TestImportBothKeepalives(t *testing.T) {
	// a long gap in the trace and a long server delay each add a keepalive
	tr := &types.Trace{Packets: []types.Packet{
		pkt(types.SideClient, "Q", 0),
		pkt(types.SideServer, "R", time.Millisecond),
		pkt(types.SideServer, "S", 600*time.Millisecond),
	}}
	p, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideServer, ServerDelay: program.NewDelay(950000)})
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{
		program.KindKeepalive, program.KindKeepalive, program.KindRecvMsg,
		program.KindDelay, program.KindSendMsg, program.KindDelay, program.KindSendMsg,
	}
	if got := kinds(p); !sameKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	cmds := p.Cmds()
	if cmds[0].Msec != 1425 || cmds[1].Msec != 1200000 {
		t.Errorf("keepalives = %d, %d, want 1425, 1200000", cmds[0].Msec, cmds[1].Msec)
	}
	if cmds[3].Usec != 950000 || cmds[5].Usec != 600000 {
		t.Errorf("delays = %d, %d", cmds[3].Usec, cmds[5].Usec)
	}
}

func TestImportMTU(t *testing.T) {
	tr := &types.Trace{Packets: []types.Packet{
		pkt(types.SideClient, "0123456789", 0),
	}}
	p, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideClient, UDPMTU: 46})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(p.Cmds()[0].Buf.Base); got != "0123" {
		t.Errorf("payload = %q, want %q", got, "0123")
	}

	_, err = program.FromTrace(tr, program.ImportOptions{Side: types.SideClient, UDPMTU: 42})
	if !errors.Is(err, program.ErrInvalidArgument) {
		t.Errorf("mtu 42 = %v, want ErrInvalidArgument", err)
	}
}

func TestImportStream(t *testing.T) {
	tr := &types.Trace{Stream: true, Packets: []types.Packet{
		pkt(types.SideClient, "req", 0),
		pkt(types.SideServer, "resp1", 0),
		pkt(types.SideServer, "resp2", 0),
		pkt(types.SideClient, "bye", 0),
	}}

	c, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideClient})
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{program.KindSend, program.KindRecv, program.KindRecv, program.KindSend}
	if got := kinds(c); !sameKinds(got, want) {
		t.Fatalf("client kinds = %v, want %v", got, want)
	}
	if c.Cmds()[1].Watermark != 5 || c.Cmds()[2].Watermark != 10 {
		t.Errorf("watermarks = %d, %d, want 5, 10", c.Cmds()[1].Watermark, c.Cmds()[2].Watermark)
	}
	if c.TotalSendBytes() != 6 {
		t.Errorf("total send = %d, want 6", c.TotalSendBytes())
	}
	if c.PayloadLen() != 16 {
		t.Errorf("payload len = %d, want 16", c.PayloadLen())
	}
}

func TestImportStreamServerFirst(t *testing.T) {
	tr := &types.Trace{Stream: true, Packets: []types.Packet{
		pkt(types.SideServer, "220 ready", 0),
		pkt(types.SideClient, "HELO", 0),
	}}
	s, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideServer})
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{program.KindConnect, program.KindSend, program.KindRecv}
	if got := kinds(s); !sameKinds(got, want) {
		t.Fatalf("server kinds = %v, want %v", got, want)
	}

	c, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideClient})
	if err != nil {
		t.Fatal(err)
	}
	if c.Cmds()[0].Kind != program.KindRecv {
		t.Errorf("client starts with %s", c.Cmds()[0].Kind)
	}
}

func TestServerDelaySplice(t *testing.T) {
	tr := &types.Trace{Stream: true, Packets: []types.Packet{
		pkt(types.SideClient, "q1", 0),
		pkt(types.SideServer, "r1", 0),
		pkt(types.SideServer, "r2", 0),
		pkt(types.SideClient, "q2", 0),
		pkt(types.SideServer, "r3", 0),
	}}
	opts := program.ImportOptions{Side: types.SideServer, ServerDelay: program.NewDelay(1000)}
	s, err := program.FromTrace(tr, opts)
	if err != nil {
		t.Fatal(err)
	}
	want := []program.Kind{
		program.KindRecv, program.KindDelay, program.KindSend, program.KindSend,
		program.KindRecv, program.KindDelay, program.KindSend,
	}
	if got := kinds(s); !sameKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}

	// client imports ignore the server delay
	opts.Side = types.SideClient
	c, err := program.FromTrace(tr, opts)
	if err != nil {
		t.Fatal(err)
	}
	for _, cmd := range c.Cmds() {
		if cmd.IsDelay() {
			t.Fatal("client program got a server delay")
		}
	}
}

func TestImportBadOptions(t *testing.T) {
	tr := &types.Trace{}
	if _, err := program.FromTrace(tr, program.ImportOptions{Side: "x"}); !errors.Is(err, program.ErrInvalidArgument) {
		t.Errorf("bad side = %v", err)
	}
	opts := program.ImportOptions{Side: types.SideServer, ServerDelay: program.NewConnect()}
	if _, err := program.FromTrace(tr, opts); !errors.Is(err, program.ErrInvalidArgument) {
		t.Errorf("bad server delay = %v", err)
	}
}
