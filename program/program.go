package program

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// cmp_op values accepted by the engine
var cmpOps = map[string]bool{"lt": true, "gt": true, "eq": true, "ge": true, "le": true, "ne": true}

// Program is the instruction list of one side of a connection.
//
// A Program has a single writer while it is built. After Compile it
// should be treated as read-only.
type Program struct {
	cmds   []*Cmd
	stream bool

	vars     symbols
	tickVars symbols
	labels   map[string]int
	groups   map[string]int

	// Addon is an opaque add-on name handed to the engine.
	Addon string

	totalSend uint64
	totalRecv uint64

	payloadLen int
}

// New returns an empty program. stream selects TCP-like semantics,
// otherwise the program is message oriented.
func New(stream bool) *Program {
	return &Program{
		stream:   stream,
		vars:     newSymbols(),
		tickVars: newSymbols(),
		labels:   make(map[string]int),
	}
}

func (p *Program) Stream() bool { return p.stream }

func (p *Program) Transport() Transport {
	if p.stream {
		return TransportStream
	}
	return TransportMessage
}

// Cmds returns the instruction list. Callers must not modify it.
func (p *Program) Cmds() []*Cmd { return p.cmds }

func (p *Program) Len() int { return len(p.cmds) }

// TotalSendBytes is the sum of all send buffer lengths.
func (p *Program) TotalSendBytes() uint64 { return p.totalSend }

// PayloadLen is the payload size of the capture the program came from.
func (p *Program) PayloadLen() int { return p.payloadLen }

// Append adds c at the tail.
func (p *Program) Append(c *Cmd) {
	if c.HasBuffer() {
		p.totalSend += uint64(c.Buf.Len())
		c.BufIndex = -1
	}
	p.cmds = append(p.cmds, c)
}

// prepend inserts c at the head, moving every label with the
// instructions it points at.
func (p *Program) prepend(c *Cmd) {
	p.cmds = append([]*Cmd{c}, p.cmds...)
	for name := range p.labels {
		p.labels[name]++
	}
}

// DeclareVar is idempotent and returns the dense index of name.
func (p *Program) DeclareVar(name string) int { return p.vars.declare(name) }

// DeclareTickVar is idempotent and returns the dense index of name.
func (p *Program) DeclareTickVar(name string) int { return p.tickVars.declare(name) }

func (p *Program) NumVars() int     { return p.vars.len() }
func (p *Program) NumTickVars() int { return p.tickVars.len() }

// SetLabel records the current offset under name.
func (p *Program) SetLabel(name string) error {
	if _, ok := p.labels[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateLabel, name)
	}
	p.labels[name] = len(p.cmds)
	return nil
}

// SetTemplateGroups supplies the template-group name to id table used by
// set_template instructions. It is owned by the profile.
func (p *Program) SetTemplateGroups(groups map[string]int) {
	p.groups = groups
}

func asciiBytes(s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return nil, fmt.Errorf("%w: buffer string must contain only ascii", ErrInvalidArgument)
		}
	}
	return []byte(s), nil
}

// Send queues buf on the stream; size and fill pad it when size > len(buf).
func (p *Program) Send(buf []byte, size int, fill []byte) {
	p.Append(NewSend(NewBuffer(buf, size, fill)))
}

// SendString is Send for text payloads, which must be ASCII.
func (p *Program) SendString(s string) error {
	b, err := asciiBytes(s)
	if err != nil {
		return err
	}
	p.Send(b, 0, nil)
	return nil
}

// SendMsg sends one datagram.
func (p *Program) SendMsg(buf []byte, size int, fill []byte) {
	p.Append(NewSendMsg(NewBuffer(buf, size, fill)))
}

// SendChunk splits buf into chunk sized sends with a delay after each.
func (p *Program) SendChunk(buf []byte, chunk int, delayUsec uint64) error {
	if chunk <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidArgument)
	}
	for off := 0; off < len(buf); off += chunk {
		end := off + chunk
		if end > len(buf) {
			end = len(buf)
		}
		p.Send(buf[off:end], 0, nil)
		if delayUsec > 0 {
			p.Delay(delayUsec)
		}
	}
	return nil
}

// Recv waits until the cumulative received byte count reaches the running
// watermark plus n. clear resets the watermark afterwards.
func (p *Program) Recv(n uint64, clear bool) {
	p.totalRecv += n
	p.Append(NewRecv(p.totalRecv, clear))
	if clear {
		p.totalRecv = 0
	}
}

// RecvMsg is Recv counted in packets.
func (p *Program) RecvMsg(pkts uint64, clear bool) {
	p.totalRecv += pkts
	p.Append(NewRecvMsg(p.totalRecv, clear))
	if clear {
		p.totalRecv = 0
	}
}

func (p *Program) Delay(usec uint64) { p.Append(NewDelay(usec)) }

func (p *Program) DelayRand(minUsec, maxUsec uint64) error {
	c, err := NewDelayRand(minUsec, maxUsec)
	if err != nil {
		return err
	}
	p.Append(c)
	return nil
}

func (p *Program) Connect()          { p.Append(NewConnect()) }
func (p *Program) Accept()           { p.Append(NewConnect()) }
func (p *Program) Reset()            { p.Append(&Cmd{Kind: KindReset}) }
func (p *Program) WaitForPeerClose() { p.Append(&Cmd{Kind: KindNoClose}) }
func (p *Program) CloseMsg()         { p.Append(&Cmd{Kind: KindCloseMsg}) }

func (p *Program) SetKeepaliveMsg(msec uint64, rxMode bool) {
	p.Append(NewKeepalive(msec, rxMode))
}

// SetSendBlocking selects whether sends wait for the last byte to be acked.
func (p *Program) SetSendBlocking(block bool) {
	flags := 1
	if block {
		flags = 0
	}
	p.Append(&Cmd{Kind: KindTxMode, Flags: flags})
}

// SetVar declares name and sets it to val.
func (p *Program) SetVar(name string, val int64) {
	p.DeclareVar(name)
	p.Append(&Cmd{Kind: KindSetVar, Var: Named(name), Val: val})
}

func (p *Program) AddVar(name string, val int64) {
	p.Append(&Cmd{Kind: KindAddVar, Var: Named(name), Val: val})
}

// SetTickVar declares name and starts its timer.
func (p *Program) SetTickVar(name string) {
	p.DeclareTickVar(name)
	p.Append(&Cmd{Kind: KindSetTickVar, Var: Named(name)})
}

func (p *Program) AddTickVar(name string, seconds float64) {
	p.Append(&Cmd{Kind: KindAddTickVar, Var: Named(name), Duration: seconds})
}

// ParseStatsID accepts a counter index or a letter, "A" being 0.
func ParseStatsID(s string) (int, error) {
	if len(s) == 1 {
		c := strings.ToUpper(s)[0]
		if c >= 'A' && c <= 'Z' {
			return int(c - 'A'), nil
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: bad stats id %q", ErrInvalidArgument, s)
	}
	return id, nil
}

func (p *Program) AddStats(statsID int, val int64) {
	p.Append(&Cmd{Kind: KindAddStats, StatsID: statsID, Val: val})
}

// AddTickStats adds the time elapsed since tick variable name to a counter.
func (p *Program) AddTickStats(statsID int, name string) {
	p.Append(&Cmd{Kind: KindAddTickStats, StatsID: statsID, Var: Named(name)})
}

// JmpNZ decrements the variable and jumps to label while it is non zero.
func (p *Program) JmpNZ(name, label string) {
	p.Append(&Cmd{Kind: KindJmpNZ, Var: Named(name), Label: label})
}

// JmpDP jumps to label while less than seconds have passed since the tick
// variable was set.
func (p *Program) JmpDP(name, label string, seconds float64) {
	p.Append(&Cmd{Kind: KindJmpDP, Var: Named(name), Label: label, Duration: seconds})
}

// JmpCmp jumps to label when "var op val" holds. An empty name makes the
// jump unconditional.
func (p *Program) JmpCmp(name, label, op string, val int64) error {
	c := &Cmd{Kind: KindJmpCmp, Label: label}
	if name != "" {
		if !cmpOps[op] {
			return fmt.Errorf("%w: comparison operator %q", ErrInvalidArgument, op)
		}
		c.Var = Named(name)
		c.CmpOp = op
		c.CmpVal = val
	}
	p.Append(c)
	return nil
}

func (p *Program) Jmp(label string) {
	p.Append(&Cmd{Kind: KindJmpCmp, Label: label})
}

func (p *Program) JmpLT(name, label string, val int64) error { return p.JmpCmp(name, label, "lt", val) }
func (p *Program) JmpGT(name, label string, val int64) error { return p.JmpCmp(name, label, "gt", val) }
func (p *Program) JmpEQ(name, label string, val int64) error { return p.JmpCmp(name, label, "eq", val) }
func (p *Program) JmpGE(name, label string, val int64) error { return p.JmpCmp(name, label, "ge", val) }
func (p *Program) JmpLE(name, label string, val int64) error { return p.JmpCmp(name, label, "le", val) }
func (p *Program) JmpNE(name, label string, val int64) error { return p.JmpCmp(name, label, "ne", val) }

// SetNextTemplate selects the template group of the next generated flow.
func (p *Program) SetNextTemplate(group string) {
	p.Append(&Cmd{Kind: KindSetTemplate, Group: Named(group)})
}

func (p *Program) ExecTemplate() { p.Append(&Cmd{Kind: KindExecTemplate}) }

// Compile resolves labels into relative offsets and symbolic ids into
// dense indices. Running it again without changes yields the same state.
func (p *Program) Compile() error {
	want := p.Transport()
	for i, c := range p.cmds {
		if t := c.Kind.Transport(); t != TransportAny && t != want {
			return fmt.Errorf("%w: command %s is %s, program is %s", ErrTransportModeConflict, c.Kind, t, want)
		}

		if c.Kind.isJump() {
			target, ok := p.labels[c.Label]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownLabel, c.Label)
			}
			c.Offset = target - i
			c.located = true
		}

		if err := p.resolveVar(c); err != nil {
			return err
		}

		if c.Kind == KindSetTemplate && !c.Group.resolved {
			id, ok := p.groups[c.Group.Name]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownTemplateGroup, c.Group.Name)
			}
			c.Group = Index(id)
		}
	}
	return nil
}

func (p *Program) resolveVar(c *Cmd) error {
	if c.Var.resolved || c.Var.empty() {
		return nil
	}
	switch c.Kind {
	case KindSetVar, KindAddVar, KindJmpNZ, KindJmpCmp:
		id, ok := p.vars.lookup(c.Var.Name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownVariable, c.Var.Name)
		}
		c.Var = Index(id)
	case KindSetTickVar, KindAddTickVar, KindAddTickStats, KindJmpDP:
		id, ok := p.tickVars.lookup(c.Var.Name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTickVariable, c.Var.Name)
		}
		c.Var = Index(id)
	}
	return nil
}

type programJSON struct {
	Commands []*Cmd `json:"commands"`
	Stream   *bool  `json:"stream,omitempty"`
	Addon    string `json:"addon,omitempty"`
}

// MarshalJSON emits {commands, stream?, addon?}. The program must be
// compiled.
func (p *Program) MarshalJSON() ([]byte, error) {
	out := programJSON{Commands: p.cmds, Addon: p.Addon}
	if out.Commands == nil {
		out.Commands = []*Cmd{}
	}
	if !p.stream {
		f := false
		out.Stream = &f
	}
	return json.Marshal(out)
}

// Hash is the blake3 digest of the serialized program.
func (p *Program) Hash() ([32]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(b), nil
}

// IndexBuffers stores index(buf) as the buffer index of every send.
func (p *Program) IndexBuffers(index func(Buffer) (int, error)) error {
	for _, c := range p.cmds {
		if !c.HasBuffer() {
			continue
		}
		i, err := index(c.Buf)
		if err != nil {
			return err
		}
		c.BufIndex = i
	}
	return nil
}

// Keepalive returns the leading keepalive instruction, if any.
func (p *Program) Keepalive() *Cmd {
	if len(p.cmds) > 0 && p.cmds[0].Kind == KindKeepalive {
		return p.cmds[0]
	}
	return nil
}

// CopyKeepalive puts the leading keepalive of p in front of peer.
func (p *Program) CopyKeepalive(peer *Program) {
	if ka := p.Keepalive(); ka != nil {
		peer.prepend(ka.clone())
	}
}

// ShareKeepalive copies the client keepalive to the server and, when both
// is set, the server's own keepalive to the client. Only keepalives the
// programs had before the call are copied.
func ShareKeepalive(client, server *Program, both bool) {
	ska := server.Keepalive()
	client.CopyKeepalive(server)
	if both && ska != nil {
		client.prepend(ska.clone())
	}
}
