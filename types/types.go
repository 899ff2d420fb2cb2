package types

import "time"

// Side identifies one end of a connection.
type Side string

const (
	SideClient Side = "c"
	SideServer Side = "s"
)

// Peer returns the opposite side.
func (s Side) Peer() Side {
	if s == SideClient {
		return SideServer
	}
	return SideClient
}

func (s Side) Valid() bool {
	return s == SideClient || s == SideServer
}

// Packet is one L7 payload of a captured exchange.
type Packet struct {
	Payload []byte
	Delta   time.Duration // time since the previous packet of the trace
	Dir     Side          // sender
}

// Trace is an already parsed packet exchange of a single flow.
type Trace struct {
	Packets []Packet
	Stream  bool // TCP-like when true, UDP-like otherwise
	DstPort int
}

// PayloadLen returns the total number of payload bytes in the trace.
func (t *Trace) PayloadLen() int {
	n := 0
	for _, p := range t.Packets {
		n += len(p.Payload)
	}
	return n
}

// Condense merges consecutive payloads sent by the same side. The merged
// packet keeps the delta of the first packet of the run.
func (t *Trace) Condense() {
	if len(t.Packets) < 2 {
		return
	}
	out := make([]Packet, 0, len(t.Packets))
	for _, p := range t.Packets {
		if n := len(out); n > 0 && out[n-1].Dir == p.Dir {
			out[n-1].Payload = append(out[n-1].Payload, p.Payload...)
			continue
		}
		p.Payload = append([]byte(nil), p.Payload...)
		out = append(out, p)
	}
	t.Packets = out
}

// Config is the declarative profile description returned by a Lua file.
type Config struct {
	Globals   Globals    `gluamapper:"globals"`
	IPGen     IPGen      `gluamapper:"ip_gen"`
	Templates []Template `gluamapper:"templates"`
	Caps      []Cap      `gluamapper:"caps"`
}

type Globals struct {
	UDPMTU    int      `gluamapper:"udp_mtu"`
	SDelay    *Delay   `gluamapper:"s_delay"`
	CGlobInfo GlobInfo `gluamapper:"c_glob_info"`
	SGlobInfo GlobInfo `gluamapper:"s_glob_info"`
}

// GlobInfo is passed to the engine untouched: section -> parameter -> value.
type GlobInfo map[string]map[string]interface{}

// Delay is a server delay: fixed when MaxUsec is zero, random otherwise.
type Delay struct {
	Usec    uint64 `gluamapper:"usec"`
	MinUsec uint64 `gluamapper:"min_usec"`
	MaxUsec uint64 `gluamapper:"max_usec"`
}

type IPGen struct {
	Client         Pool   `gluamapper:"client"`
	Server         Pool   `gluamapper:"server"`
	IPOffset       string `gluamapper:"ip_offset"`
	IPOffsetServer string `gluamapper:"ip_offset_server"`
}

type Pool struct {
	IPStart             string `gluamapper:"ip_start"`
	IPEnd               string `gluamapper:"ip_end"`
	Distribution        string `gluamapper:"distribution"`
	PerCoreDistribution string `gluamapper:"per_core_distribution"`
}

type AssocRule struct {
	Port    int    `gluamapper:"port"`
	IPStart string `gluamapper:"ip_start"`
	IPEnd   string `gluamapper:"ip_end"`
	L7Map   []int  `gluamapper:"l7_map"`
	AssocID *int64 `gluamapper:"assoc_id"`
}

type Template struct {
	TGName *string    `gluamapper:"tg_name"` // nil for the unnamed group
	UDP    bool       `gluamapper:"udp"`
	IPGen  *IPGen     `gluamapper:"ip_gen"`
	Client ClientSide `gluamapper:"client"`
	Server ServerSide `gluamapper:"server"`
}

type ClientSide struct {
	Port     int       `gluamapper:"port"`
	CPS      float64   `gluamapper:"cps"`
	Limit    int       `gluamapper:"limit"`
	Cont     bool      `gluamapper:"cont"`
	Addon    string    `gluamapper:"addon"`
	GlobInfo GlobInfo  `gluamapper:"glob_info"`
	Program  []Command `gluamapper:"program"`
}

type ServerSide struct {
	Assoc    []AssocRule `gluamapper:"assoc"`
	Addon    string      `gluamapper:"addon"`
	GlobInfo GlobInfo    `gluamapper:"glob_info"`
	Program  []Command   `gluamapper:"program"`
}

// Cap describes a template built from a capture file.
type Cap struct {
	File      string      `gluamapper:"file"`
	CPS       float64     `gluamapper:"cps"`
	L7Percent float64     `gluamapper:"l7_percent"`
	Port      int         `gluamapper:"port"`
	Assoc     []AssocRule `gluamapper:"assoc"`
	IPGen     *IPGen      `gluamapper:"ip_gen"`
	Limit     int         `gluamapper:"limit"`
	Cont      bool        `gluamapper:"cont"`
	TGName    *string     `gluamapper:"tg_name"`
	SDelay    *Delay      `gluamapper:"s_delay"`
	UDPMTU    int         `gluamapper:"udp_mtu"`
	CGlobInfo GlobInfo    `gluamapper:"c_glob_info"`
	SGlobInfo GlobInfo    `gluamapper:"s_glob_info"`
}

// Command is one program step of a Lua description, {op = "...", ...}.
type Command struct {
	Op       string  `gluamapper:"op"`
	Buf      string  `gluamapper:"buf"` // ASCII text
	Hex      string  `gluamapper:"hex"` // binary payload
	Size     int     `gluamapper:"size"`
	Fill     string  `gluamapper:"fill"`
	Chunk    int     `gluamapper:"chunk"`
	Bytes    uint64  `gluamapper:"bytes"`
	Pkts     uint64  `gluamapper:"pkts"`
	Clear    bool    `gluamapper:"clear"`
	Usec     uint64  `gluamapper:"usec"`
	MinUsec  uint64  `gluamapper:"min_usec"`
	MaxUsec  uint64  `gluamapper:"max_usec"`
	Msec     uint64  `gluamapper:"msec"`
	RxMode   bool    `gluamapper:"rx_mode"`
	Block    bool    `gluamapper:"block"`
	Var      string  `gluamapper:"var"`
	Val      int64   `gluamapper:"val"`
	Duration float64 `gluamapper:"duration"`
	Stats    string  `gluamapper:"stats"`
	Name     string  `gluamapper:"name"`
	Label    string  `gluamapper:"label"`
	Cmp      string  `gluamapper:"cmp"`
	Template string  `gluamapper:"template"`
}
