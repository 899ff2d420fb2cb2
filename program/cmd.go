package program

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates instruction variants.
type Kind uint8

const (
	KindSend Kind = iota
	KindSendMsg
	KindRecv
	KindRecvMsg
	KindKeepalive
	KindCloseMsg
	KindDelay
	KindDelayRand
	KindConnect
	KindReset
	KindNoClose
	KindSetVar
	KindAddVar
	KindSetTickVar
	KindAddTickVar
	KindAddStats
	KindAddTickStats
	KindJmpNZ
	KindJmpDP
	KindJmpCmp
	KindTxMode
	KindSetTemplate
	KindExecTemplate
)

// wire names understood by the traffic engine
var kindNames = [...]string{
	KindSend:         "tx",
	KindSendMsg:      "tx_msg",
	KindRecv:         "rx",
	KindRecvMsg:      "rx_msg",
	KindKeepalive:    "keepalive",
	KindCloseMsg:     "close_msg",
	KindDelay:        "delay",
	KindDelayRand:    "delay_rnd",
	KindConnect:      "connect",
	KindReset:        "reset",
	KindNoClose:      "nc",
	KindSetVar:       "set_var",
	KindAddVar:       "add_var",
	KindSetTickVar:   "set_tick_var",
	KindAddTickVar:   "add_tick_var",
	KindAddStats:     "add_stats",
	KindAddTickStats: "add_tick_stats",
	KindJmpNZ:        "jmp_nz",
	KindJmpDP:        "jmp_dp",
	KindJmpCmp:       "jmp_cmp",
	KindTxMode:       "tx_mode",
	KindSetTemplate:  "set_template",
	KindExecTemplate: "exec_template",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Transport is the transport class of an instruction or a program.
type Transport uint8

const (
	TransportAny Transport = iota
	TransportStream
	TransportMessage
)

func (t Transport) String() string {
	switch t {
	case TransportStream:
		return "stream"
	case TransportMessage:
		return "message"
	}
	return "any"
}

func (k Kind) Transport() Transport {
	switch k {
	case KindSend, KindRecv, KindConnect, KindReset, KindNoClose:
		return TransportStream
	case KindSendMsg, KindRecvMsg, KindKeepalive, KindCloseMsg:
		return TransportMessage
	}
	return TransportAny
}

func (k Kind) isJump() bool {
	return k == KindJmpNZ || k == KindJmpDP || k == KindJmpCmp
}

// Ref is a variable or template-group reference, symbolic until Compile
// replaces it with a dense index.
type Ref struct {
	Name     string
	ID       int
	resolved bool
}

func Named(name string) Ref { return Ref{Name: name} }

// Index is an already resolved reference.
func Index(id int) Ref { return Ref{ID: id, resolved: true} }

func (r Ref) Resolved() bool { return r.resolved }

func (r Ref) empty() bool { return !r.resolved && r.Name == "" }

func (r Ref) value() (int, error) {
	if !r.resolved {
		return 0, fmt.Errorf("%w: %q", errUnresolved, r.Name)
	}
	return r.ID, nil
}

// Cmd is one instruction. Only the fields of its Kind are meaningful.
type Cmd struct {
	Kind Kind

	Buf      Buffer
	BufIndex int

	Watermark uint64 // rx bytes or rx_msg packets, cumulative
	Clear     bool

	Usec    uint64
	MinUsec uint64
	MaxUsec uint64

	Msec   uint64
	RxMode bool

	Flags int

	Var      Ref
	Val      int64
	Duration float64 // seconds
	StatsID  int

	Label  string
	Offset int // valid once Compile located Label
	CmpOp  string
	CmpVal int64

	Group Ref

	located bool
}

func NewSend(buf Buffer) *Cmd    { return &Cmd{Kind: KindSend, Buf: buf, BufIndex: -1} }
func NewSendMsg(buf Buffer) *Cmd { return &Cmd{Kind: KindSendMsg, Buf: buf, BufIndex: -1} }

func NewRecv(minBytes uint64, clear bool) *Cmd {
	return &Cmd{Kind: KindRecv, Watermark: minBytes, Clear: clear}
}

func NewRecvMsg(minPkts uint64, clear bool) *Cmd {
	return &Cmd{Kind: KindRecvMsg, Watermark: minPkts, Clear: clear}
}

func NewKeepalive(msec uint64, rxMode bool) *Cmd {
	return &Cmd{Kind: KindKeepalive, Msec: msec, RxMode: rxMode}
}

func NewDelay(usec uint64) *Cmd { return &Cmd{Kind: KindDelay, Usec: usec} }

func NewDelayRand(minUsec, maxUsec uint64) (*Cmd, error) {
	if minUsec > maxUsec {
		return nil, fmt.Errorf("%w: min delay %d is bigger than max %d", ErrInvalidArgument, minUsec, maxUsec)
	}
	return &Cmd{Kind: KindDelayRand, MinUsec: minUsec, MaxUsec: maxUsec}, nil
}

func NewConnect() *Cmd { return &Cmd{Kind: KindConnect} }

// IsDelay reports whether c is a fixed or random delay.
func (c *Cmd) IsDelay() bool {
	return c.Kind == KindDelay || c.Kind == KindDelayRand
}

// HasBuffer reports whether c references a payload buffer.
func (c *Cmd) HasBuffer() bool {
	return c.Kind == KindSend || c.Kind == KindSendMsg
}

func (c *Cmd) clone() *Cmd {
	cp := *c
	return &cp
}

// MarshalJSON emits the resolved fields of the instruction. Symbolic
// references still present are an error.
func (c *Cmd) MarshalJSON() ([]byte, error) {
	f := map[string]interface{}{"name": c.Kind.String()}
	var err error
	id := func(key string, r Ref) {
		if err != nil {
			return
		}
		var v int
		if v, err = r.value(); err == nil {
			f[key] = v
		}
	}

	switch c.Kind {
	case KindSend, KindSendMsg:
		f["buf_index"] = c.BufIndex
	case KindRecv, KindRecvMsg:
		if c.Kind == KindRecv {
			f["min_bytes"] = c.Watermark
		} else {
			f["min_pkts"] = c.Watermark
		}
		if c.Clear {
			f["clear"] = true
		}
	case KindKeepalive:
		f["msec"] = c.Msec
		if c.RxMode {
			f["rx_mode"] = true
		}
	case KindDelay:
		f["usec"] = c.Usec
	case KindDelayRand:
		f["min_usec"] = c.MinUsec
		f["max_usec"] = c.MaxUsec
	case KindSetVar, KindAddVar:
		id("id", c.Var)
		f["val"] = c.Val
	case KindSetTickVar:
		id("id", c.Var)
	case KindAddTickVar:
		id("id", c.Var)
		f["duration"] = c.Duration
	case KindAddStats:
		f["stats_id"] = c.StatsID
		f["val"] = c.Val
	case KindAddTickStats:
		f["stats_id"] = c.StatsID
		id("var_id", c.Var)
	case KindJmpNZ, KindJmpDP, KindJmpCmp:
		if !c.located {
			return nil, fmt.Errorf("%w: label %q", errUnresolved, c.Label)
		}
		f["offset"] = c.Offset
		if c.Kind == KindJmpCmp && c.Var.empty() {
			break
		}
		id("id", c.Var)
		switch c.Kind {
		case KindJmpDP:
			f["duration"] = c.Duration
		case KindJmpCmp:
			f["cmp_op"] = c.CmpOp
			f["cmp_val"] = c.CmpVal
		}
	case KindTxMode:
		f["flags"] = c.Flags
	case KindSetTemplate:
		id("tg_id", c.Group)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Kind, err)
	}
	return json.Marshal(f)
}

// String is a short human readable form used by stats and the browser.
func (c *Cmd) String() string {
	switch c.Kind {
	case KindSend, KindSendMsg:
		return fmt.Sprintf("%s(%d bytes, buf %d)", c.Kind, c.Buf.Len(), c.BufIndex)
	case KindRecv, KindRecvMsg:
		return fmt.Sprintf("%s(%d)", c.Kind, c.Watermark)
	case KindDelay:
		return fmt.Sprintf("delay(%dus)", c.Usec)
	case KindDelayRand:
		return fmt.Sprintf("delay_rnd(%d..%dus)", c.MinUsec, c.MaxUsec)
	case KindKeepalive:
		return fmt.Sprintf("keepalive(%dms)", c.Msec)
	case KindJmpNZ, KindJmpDP, KindJmpCmp:
		return fmt.Sprintf("%s(%+d)", c.Kind, c.Offset)
	}
	return c.Kind.String()
}
