// Package profile assembles templates into a profile and serializes it,
// with payloads, programs and address pools deduplicated.
package profile

import (
	"fmt"
	"math"

	"github.com/samaelod/flowc/cache"
	"github.com/samaelod/flowc/ipgen"
	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// TraceReader loads the packet exchange of a capture file.
type TraceReader interface {
	ReadTrace(path string) (*types.Trace, error)
}

// TraceReaderFunc adapts a function to TraceReader.
type TraceReaderFunc func(path string) (*types.Trace, error)

func (f TraceReaderFunc) ReadTrace(path string) (*types.Trace, error) { return f(path) }

// Options are the inputs of New. At least one template or cap is needed.
type Options struct {
	// IPGen is used by templates and caps without their own generator.
	IPGen *ipgen.Gen

	CGlobInfo types.GlobInfo
	SGlobInfo types.GlobInfo

	Templates []*Template
	Caps      []*CapInfo

	// ServerDelay and UDPMTU apply to caps that do not set their own.
	ServerDelay *program.Cmd
	UDPMTU      int

	// Traces reads cap files. Required when Caps is not empty.
	Traces TraceReader
}

// Profile is a set of templates ready to be handed to the engine.
type Profile struct {
	Templates []*Template
	CGlobInfo types.GlobInfo
	SGlobInfo types.GlobInfo

	groups   []string
	groupIDs map[string]int

	cache *cache.Set
}

// New builds the cap templates and checks the profile as a whole.
func New(opts Options) (*Profile, error) {
	if len(opts.Templates) == 0 && len(opts.Caps) == 0 {
		return nil, fmt.Errorf("%w: profile needs templates or caps", program.ErrInvalidArgument)
	}

	p := &Profile{
		CGlobInfo: opts.CGlobInfo,
		SGlobInfo: opts.SGlobInfo,
		groupIDs:  make(map[string]int),
		cache:     cache.NewSet(),
	}
	ports := make(map[int]string)

	for i, t := range opts.Templates {
		if t.Client.IPGen == nil {
			if opts.IPGen == nil {
				return nil, fmt.Errorf("%w: template %d has no ip generator and there is no default", program.ErrInvalidArgument, i)
			}
			t.Client.IPGen = opts.IPGen
		}
		if err := claimPort(ports, t.Server.Assoc, fmt.Sprintf("template %d", i)); err != nil {
			return nil, err
		}
		p.add(t)
	}

	if len(opts.Caps) > 0 {
		if opts.Traces == nil {
			return nil, fmt.Errorf("%w: caps given without a trace reader", program.ErrInvalidArgument)
		}
		templates, err := buildCaps(opts, ports)
		if err != nil {
			return nil, err
		}
		for _, t := range templates {
			p.add(t)
		}
	}
	return p, nil
}

// claimPort rejects a second port-only association on the same port.
func claimPort(ports map[int]string, a Association, owner string) error {
	if !a.PortOnly() {
		return nil
	}
	port := a.Port()
	if prev, ok := ports[port]; ok {
		return fmt.Errorf("%w: destination port %d used by both %s and %s", program.ErrInvalidArgument, port, prev, owner)
	}
	ports[port] = owner
	return nil
}

// add appends t and assigns its group id; named groups are numbered from 1
// in first-seen order.
func (p *Profile) add(t *Template) {
	if t.Group != "" {
		id, ok := p.groupIDs[t.Group]
		if !ok {
			p.groups = append(p.groups, t.Group)
			id = len(p.groups)
			p.groupIDs[t.Group] = id
		}
		t.groupID = id
	}
	p.Templates = append(p.Templates, t)
}

type capBuild struct {
	info   *CapInfo
	client *program.Program
	server *program.Program
	assoc  Association
	port   int
	cps    float64
}

func buildCaps(opts Options, ports map[int]string) ([]*Template, error) {
	var (
		builds       []capBuild
		l7Mode       bool
		totalPayload int
	)
	for i, info := range opts.Caps {
		if err := info.validate(); err != nil {
			return nil, err
		}
		if i == 0 {
			l7Mode = info.L7Percent != 0
		} else if l7Mode != (info.L7Percent != 0) {
			return nil, fmt.Errorf("%w: %s: either every cap uses l7_percent or none does", program.ErrInvalidArgument, info.File)
		}

		tr, err := opts.Traces.ReadTrace(info.File)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.File, err)
		}

		mtu := info.UDPMTU
		if mtu == 0 {
			mtu = opts.UDPMTU
		}
		sdelay := info.ServerDelay
		if sdelay == nil {
			sdelay = opts.ServerDelay
		}
		client, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideClient, UDPMTU: mtu})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.File, err)
		}
		server, err := program.FromTrace(tr, program.ImportOptions{Side: types.SideServer, UDPMTU: mtu, ServerDelay: sdelay})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.File, err)
		}
		program.ShareKeepalive(client, server, !tr.Stream)

		b := capBuild{info: info, client: client, server: server, cps: info.CPS}
		switch {
		case len(info.Assoc) > 0:
			b.assoc = info.Assoc
		case info.Port != 0:
			b.assoc = Association{{Port: info.Port}}
		default:
			b.assoc = Association{{Port: tr.DstPort}}
		}
		b.port = b.assoc.Port()
		if err := claimPort(ports, b.assoc, info.File); err != nil {
			return nil, err
		}
		if !l7Mode && b.cps == 0 {
			b.cps = 1
		}
		totalPayload += client.PayloadLen()
		builds = append(builds, b)
	}

	if l7Mode {
		if err := l7Rates(builds, totalPayload); err != nil {
			return nil, err
		}
	}

	templates := make([]*Template, 0, len(builds))
	for _, b := range builds {
		gen := b.info.IPGen
		if gen == nil {
			gen = opts.IPGen
		}
		if gen == nil {
			return nil, fmt.Errorf("%w: %s: no ip generator and there is no default", program.ErrInvalidArgument, b.info.File)
		}
		t, err := NewTemplate(
			&ClientTemplate{
				Program:  b.client,
				IPGen:    gen,
				Port:     b.port,
				CPS:      b.cps,
				Limit:    b.info.Limit,
				Cont:     b.info.Cont,
				GlobInfo: b.info.CGlobInfo,
			},
			&ServerTemplate{Program: b.server, Assoc: b.assoc, GlobInfo: b.info.SGlobInfo},
			b.info.Group,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.info.File, err)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// l7Rates turns bandwidth percentages into connection rates: a cap whose
// payload makes share% of the total needs percent/share cps. Rates are
// scaled so the smallest is at least 1.
func l7Rates(builds []capBuild, totalPayload int) error {
	if totalPayload == 0 {
		return fmt.Errorf("%w: l7_percent needs captures with payload", program.ErrInvalidArgument)
	}
	lowest, sum := 1.0, 0.0
	for i := range builds {
		b := &builds[i]
		share := float64(b.client.PayloadLen()) * 100 / float64(totalPayload)
		if share == 0 {
			return fmt.Errorf("%w: %s: l7_percent given for a capture without client payload", program.ErrInvalidArgument, b.info.File)
		}
		b.cps = b.info.L7Percent / share
		lowest = math.Min(lowest, b.cps)
		sum += b.info.L7Percent
	}
	if math.Abs(sum-100) > 1e-9 {
		return fmt.Errorf("%w: l7_percent values sum to %g, not 100", program.ErrInvalidArgument, sum)
	}
	for i := range builds {
		builds[i].cps /= lowest
	}
	return nil
}

// Groups returns the template group names; the group of id n is at n-1.
func (p *Profile) Groups() []string {
	if p.groups == nil {
		return []string{}
	}
	return p.groups
}

// GroupIDs is the name to id table handed to the programs.
func (p *Profile) GroupIDs() map[string]int { return p.groupIDs }

// Cache returns the caches of the last Fill.
func (p *Profile) Cache() *cache.Set { return p.cache }

// Fill rebuilds the caches from scratch: every program is compiled, its
// payloads and itself deduplicated, and every address pool registered.
func (p *Profile) Fill() error {
	p.cache.Clear()
	for i, t := range p.Templates {
		for _, side := range []struct {
			prog  *program.Program
			index *int
		}{
			{t.Client.Program, &t.Client.programIndex},
			{t.Server.Program, &t.Server.programIndex},
		} {
			side.prog.SetTemplateGroups(p.groupIDs)
			if err := side.prog.Compile(); err != nil {
				return fmt.Errorf("template %d: %w", i, err)
			}
			if err := p.cache.Buffers.AddProgram(side.prog); err != nil {
				return fmt.Errorf("template %d: %w", i, err)
			}
			idx, err := p.cache.Programs.Add(side.prog)
			if err != nil {
				return fmt.Errorf("template %d: %w", i, err)
			}
			*side.index = idx
		}
		if err := p.cache.Pools.Add(t.Client.IPGen); err != nil {
			return fmt.Errorf("template %d: %w", i, err)
		}
	}
	return nil
}
