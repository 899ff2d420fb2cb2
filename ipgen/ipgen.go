// Package ipgen describes the client and server address pools a template
// draws its tuples from.
package ipgen

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

const (
	DistSeq  = "seq"
	DistRand = "rand"

	PerCoreDefault = "default"
	PerCoreSeq     = "seq"

	DefaultOffset = "1.0.0.0"
)

// Dist is one address range and the way addresses are drawn from it.
type Dist struct {
	Start        netip.Addr
	End          netip.Addr
	Distribution string
	PerCore      string // empty means unset

	dir    types.Side
	offset string
	index  int
}

// NewDist validates an address range. An empty distribution means "seq".
func NewDist(start, end, distribution, perCore string) (*Dist, error) {
	s, err := netip.ParseAddr(start)
	if err != nil {
		return nil, fmt.Errorf("%w: ip_start %q", program.ErrInvalidArgument, start)
	}
	e, err := netip.ParseAddr(end)
	if err != nil {
		return nil, fmt.Errorf("%w: ip_end %q", program.ErrInvalidArgument, end)
	}
	if s.BitLen() != e.BitLen() || s.Compare(e) > 0 {
		return nil, fmt.Errorf("%w: bad ip range %s-%s", program.ErrInvalidArgument, s, e)
	}

	if distribution == "" {
		distribution = DistSeq
	}
	if distribution != DistSeq && distribution != DistRand {
		return nil, fmt.Errorf("%w: distribution must be %q or %q, got %q", program.ErrInvalidArgument, DistSeq, DistRand, distribution)
	}
	if perCore != "" && perCore != PerCoreDefault && perCore != PerCoreSeq {
		return nil, fmt.Errorf("%w: per_core_distribution must be %q or %q, got %q", program.ErrInvalidArgument, PerCoreDefault, PerCoreSeq, perCore)
	}

	return &Dist{Start: s, End: e, Distribution: distribution, PerCore: perCore, index: -1}, nil
}

func (d *Dist) Dir() types.Side { return d.dir }
func (d *Dist) Offset() string  { return d.offset }

// Index is the position of the pool in the deduplicated pool list, -1
// before it has been added to one.
func (d *Dist) Index() int { return d.index }

func (d *Dist) SetIndex(i int) { d.index = i }

func (d *Dist) Client() bool { return d.dir == types.SideClient }

func (d *Dist) String() string { return d.Start.String() + "-" + d.End.String() }

// Overlaps reports whether the two inclusive ranges intersect.
func (d *Dist) Overlaps(o *Dist) bool {
	if d.Start.BitLen() != o.Start.BitLen() {
		return false
	}
	return d.Start.Compare(o.End) <= 0 && o.Start.Compare(d.End) <= 0
}

// Key is the structural identity of the pool, direction and offset included.
func (d *Dist) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", d.Start, d.End, d.Distribution, d.PerCore, d.dir, d.offset)
}

type distJSON struct {
	IPStart      string `json:"ip_start"`
	IPEnd        string `json:"ip_end"`
	Distribution string `json:"distribution"`
	PerCore      string `json:"per_core_distribution,omitempty"`
	Dir          string `json:"dir"`
	IPOffset     string `json:"ip_offset"`
}

func (d *Dist) MarshalJSON() ([]byte, error) {
	return json.Marshal(distJSON{
		IPStart:      d.Start.String(),
		IPEnd:        d.End.String(),
		Distribution: d.Distribution,
		PerCore:      d.PerCore,
		Dir:          string(d.dir),
		IPOffset:     d.offset,
	})
}

// Global holds the per port pair offsets added to the pools.
type Global struct {
	IPOffset       string
	IPOffsetServer string
}

// NewGlobal validates the offsets; an empty ipOffset means 1.0.0.0.
func NewGlobal(ipOffset, ipOffsetServer string) (Global, error) {
	if ipOffset == "" {
		ipOffset = DefaultOffset
	}
	if _, err := netip.ParseAddr(ipOffset); err != nil {
		return Global{}, fmt.Errorf("%w: ip_offset %q", program.ErrInvalidArgument, ipOffset)
	}
	if ipOffsetServer != "" {
		if _, err := netip.ParseAddr(ipOffsetServer); err != nil {
			return Global{}, fmt.Errorf("%w: ip_offset_server %q", program.ErrInvalidArgument, ipOffsetServer)
		}
	}
	return Global{IPOffset: ipOffset, IPOffsetServer: ipOffsetServer}, nil
}

func (g Global) serverOffset() string {
	if g.IPOffsetServer != "" {
		return g.IPOffsetServer
	}
	return g.IPOffset
}

// Gen pairs a client and a server pool.
type Gen struct {
	Client *Dist
	Server *Dist
}

// New tags client and server with their direction and applies the
// offsets of glob. A pool already tagged with the other direction is
// rejected.
func New(client, server *Dist, glob Global) (*Gen, error) {
	if client.dir != "" && client.dir != types.SideClient {
		return nil, fmt.Errorf("%w: client pool %s already has direction %q", program.ErrInvalidArgument, client, client.dir)
	}
	if server.dir != "" && server.dir != types.SideServer {
		return nil, fmt.Errorf("%w: server pool %s already has direction %q", program.ErrInvalidArgument, server, server.dir)
	}
	if glob.IPOffset == "" {
		glob.IPOffset = DefaultOffset
	}
	client.dir = types.SideClient
	client.offset = glob.IPOffset
	server.dir = types.SideServer
	server.offset = glob.serverOffset()
	return &Gen{Client: client, Server: server}, nil
}

// FromConfig builds a generator from a profile description.
func FromConfig(c types.IPGen) (*Gen, error) {
	client, err := NewDist(c.Client.IPStart, c.Client.IPEnd, c.Client.Distribution, c.Client.PerCoreDistribution)
	if err != nil {
		return nil, fmt.Errorf("client pool: %w", err)
	}
	server, err := NewDist(c.Server.IPStart, c.Server.IPEnd, c.Server.Distribution, c.Server.PerCoreDistribution)
	if err != nil {
		return nil, fmt.Errorf("server pool: %w", err)
	}
	glob, err := NewGlobal(c.IPOffset, c.IPOffsetServer)
	if err != nil {
		return nil, err
	}
	return New(client, server, glob)
}

type indexJSON struct {
	Index int `json:"index"`
}

// MarshalJSON references both pools by their list index.
func (g *Gen) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Client indexJSON `json:"dist_client"`
		Server indexJSON `json:"dist_server"`
	}{indexJSON{g.Client.index}, indexJSON{g.Server.index}})
}
