package profile

import (
	"fmt"

	"github.com/samaelod/flowc/ipgen"
	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// CapInfo describes a template built from a capture file.
type CapInfo struct {
	File string

	// CPS and L7Percent are exclusive. With neither set CPS is 1.
	CPS       float64
	L7Percent float64

	// Port and Assoc are exclusive. With neither set the destination port
	// of the capture is used.
	Port  int
	Assoc Association

	IPGen *ipgen.Gen
	Limit int
	Cont  bool
	Group *string // nil for the unnamed group

	// ServerDelay and UDPMTU override the profile wide values.
	ServerDelay *program.Cmd
	UDPMTU      int

	CGlobInfo types.GlobInfo
	SGlobInfo types.GlobInfo
}

func (c *CapInfo) validate() error {
	if c.File == "" {
		return fmt.Errorf("%w: cap without file", program.ErrInvalidArgument)
	}
	if c.CPS != 0 && c.L7Percent != 0 {
		return fmt.Errorf("%w: %s: cps and l7_percent are exclusive", program.ErrInvalidArgument, c.File)
	}
	if c.CPS < 0 || c.L7Percent < 0 {
		return fmt.Errorf("%w: %s: negative rate", program.ErrInvalidArgument, c.File)
	}
	if c.Port != 0 && len(c.Assoc) > 0 {
		return fmt.Errorf("%w: %s: port and assoc are exclusive", program.ErrInvalidArgument, c.File)
	}
	if c.ServerDelay != nil && !c.ServerDelay.IsDelay() {
		return fmt.Errorf("%w: %s: s_delay must be a delay", program.ErrInvalidArgument, c.File)
	}
	return checkGroupName(c.Group)
}

// ServerDelayFromConfig turns a description delay into a delay or
// delay_rnd instruction. nil gives nil.
func ServerDelayFromConfig(d *types.Delay) (*program.Cmd, error) {
	if d == nil {
		return nil, nil
	}
	if d.MaxUsec != 0 {
		return program.NewDelayRand(d.MinUsec, d.MaxUsec)
	}
	return program.NewDelay(d.Usec), nil
}

// CapInfoFromConfig converts a description cap. File is taken as is.
func CapInfoFromConfig(c types.Cap) (*CapInfo, error) {
	info := &CapInfo{
		File:      c.File,
		CPS:       c.CPS,
		L7Percent: c.L7Percent,
		Port:      c.Port,
		Limit:     c.Limit,
		Cont:      c.Cont,
		Group:     c.TGName,
		UDPMTU:    c.UDPMTU,
	}
	var err error
	if info.Assoc, err = AssociationFromConfig(c.Assoc); err != nil {
		return nil, err
	}
	if c.IPGen != nil {
		if info.IPGen, err = ipgen.FromConfig(*c.IPGen); err != nil {
			return nil, err
		}
	}
	if info.ServerDelay, err = ServerDelayFromConfig(c.SDelay); err != nil {
		return nil, err
	}
	if info.CGlobInfo, err = NormalizeGlobInfo(c.CGlobInfo); err != nil {
		return nil, err
	}
	if info.SGlobInfo, err = NormalizeGlobInfo(c.SGlobInfo); err != nil {
		return nil, err
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	return info, nil
}
