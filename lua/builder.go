package lua

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/samaelod/flowc/ipgen"
	"github.com/samaelod/flowc/profile"
	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// Build turns a description into a profile. traces reads the cap files.
func Build(cfg *types.Config, traces profile.TraceReader) (*profile.Profile, error) {
	opts := profile.Options{UDPMTU: cfg.Globals.UDPMTU, Traces: traces}

	var err error
	if cfg.IPGen.Client.IPStart != "" || cfg.IPGen.Server.IPStart != "" {
		if opts.IPGen, err = ipgen.FromConfig(cfg.IPGen); err != nil {
			return nil, errors.Wrap(err, "ip_gen")
		}
	}
	if opts.ServerDelay, err = profile.ServerDelayFromConfig(cfg.Globals.SDelay); err != nil {
		return nil, errors.Wrap(err, "globals.s_delay")
	}
	if opts.CGlobInfo, err = profile.NormalizeGlobInfo(cfg.Globals.CGlobInfo); err != nil {
		return nil, err
	}
	if opts.SGlobInfo, err = profile.NormalizeGlobInfo(cfg.Globals.SGlobInfo); err != nil {
		return nil, err
	}

	for i, t := range cfg.Templates {
		tmpl, err := buildTemplate(t)
		if err != nil {
			return nil, errors.Wrapf(err, "template %d", i)
		}
		opts.Templates = append(opts.Templates, tmpl)
	}
	for i, c := range cfg.Caps {
		info, err := profile.CapInfoFromConfig(c)
		if err != nil {
			return nil, errors.Wrapf(err, "cap %d", i)
		}
		opts.Caps = append(opts.Caps, info)
	}

	return profile.New(opts)
}

func buildTemplate(t types.Template) (*profile.Template, error) {
	stream := !t.UDP
	client, err := BuildProgram(t.Client.Program, stream)
	if err != nil {
		return nil, errors.Wrap(err, "client")
	}
	client.Addon = t.Client.Addon
	server, err := BuildProgram(t.Server.Program, stream)
	if err != nil {
		return nil, errors.Wrap(err, "server")
	}
	server.Addon = t.Server.Addon

	ct := &profile.ClientTemplate{
		Program: client,
		Port:    t.Client.Port,
		CPS:     t.Client.CPS,
		Limit:   t.Client.Limit,
		Cont:    t.Client.Cont,
	}
	if ct.CPS == 0 {
		ct.CPS = 1
	}
	if t.IPGen != nil {
		if ct.IPGen, err = ipgen.FromConfig(*t.IPGen); err != nil {
			return nil, errors.Wrap(err, "ip_gen")
		}
	}
	if ct.GlobInfo, err = profile.NormalizeGlobInfo(t.Client.GlobInfo); err != nil {
		return nil, err
	}

	st := &profile.ServerTemplate{Program: server}
	if st.Assoc, err = profile.AssociationFromConfig(t.Server.Assoc); err != nil {
		return nil, errors.Wrap(err, "assoc")
	}
	if st.Assoc == nil && t.Client.Port != 0 {
		st.Assoc = profile.Association{{Port: t.Client.Port}}
	}
	if st.GlobInfo, err = profile.NormalizeGlobInfo(t.Server.GlobInfo); err != nil {
		return nil, err
	}

	return profile.NewTemplate(ct, st, t.TGName)
}

func payload(c types.Command) ([]byte, error) {
	if c.Hex != "" {
		b, err := hex.DecodeString(c.Hex)
		if err != nil {
			return nil, fmt.Errorf("%w: hex payload: %v", program.ErrInvalidArgument, err)
		}
		return b, nil
	}
	for i := 0; i < len(c.Buf); i++ {
		if c.Buf[i] > 0x7f {
			return nil, fmt.Errorf("%w: buf must contain only ascii, use hex for binary payloads", program.ErrInvalidArgument)
		}
	}
	return []byte(c.Buf), nil
}

func fill(c types.Command) []byte {
	if c.Fill == "" {
		return nil
	}
	return []byte(c.Fill)
}

// BuildProgram replays description commands on a new program.
func BuildProgram(cmds []types.Command, stream bool) (*program.Program, error) {
	p := program.New(stream)
	for i, c := range cmds {
		if err := apply(p, c); err != nil {
			return nil, errors.Wrapf(err, "command %d (%s)", i, c.Op)
		}
	}
	return p, nil
}

func apply(p *program.Program, c types.Command) error {
	switch c.Op {
	case "send", "send_msg", "send_chunk":
		b, err := payload(c)
		if err != nil {
			return err
		}
		switch c.Op {
		case "send":
			p.Send(b, c.Size, fill(c))
		case "send_msg":
			p.SendMsg(b, c.Size, fill(c))
		default:
			return p.SendChunk(b, c.Chunk, c.Usec)
		}
	case "recv":
		p.Recv(c.Bytes, c.Clear)
	case "recv_msg":
		p.RecvMsg(c.Pkts, c.Clear)
	case "delay":
		p.Delay(c.Usec)
	case "delay_rand":
		return p.DelayRand(c.MinUsec, c.MaxUsec)
	case "connect":
		p.Connect()
	case "accept":
		p.Accept()
	case "reset":
		p.Reset()
	case "wait_for_peer_close":
		p.WaitForPeerClose()
	case "close_msg":
		p.CloseMsg()
	case "keepalive":
		p.SetKeepaliveMsg(c.Msec, c.RxMode)
	case "tx_mode":
		p.SetSendBlocking(c.Block)
	case "set_var":
		p.SetVar(c.Var, c.Val)
	case "add_var":
		p.AddVar(c.Var, c.Val)
	case "set_tick_var":
		p.SetTickVar(c.Var)
	case "add_tick_var":
		p.AddTickVar(c.Var, c.Duration)
	case "add_stats", "add_tick_stats":
		id, err := program.ParseStatsID(c.Stats)
		if err != nil {
			return err
		}
		if c.Op == "add_stats" {
			p.AddStats(id, c.Val)
		} else {
			p.AddTickStats(id, c.Var)
		}
	case "label":
		return p.SetLabel(c.Name)
	case "jmp":
		p.Jmp(c.Label)
	case "jmp_nz":
		p.JmpNZ(c.Var, c.Label)
	case "jmp_dp":
		p.JmpDP(c.Var, c.Label, c.Duration)
	case "jmp_cmp":
		return p.JmpCmp(c.Var, c.Label, c.Cmp, c.Val)
	case "set_template":
		p.SetNextTemplate(c.Template)
	case "exec_template":
		p.ExecTemplate()
	default:
		return fmt.Errorf("%w: unknown op %q", program.ErrInvalidArgument, c.Op)
	}
	return nil
}

// CommandsFromProgram is the inverse of BuildProgram for programs without
// jumps, such as imported ones. Watermarks become per command counts again.
func CommandsFromProgram(p *program.Program) ([]types.Command, error) {
	var (
		out  []types.Command
		last uint64
	)
	for _, c := range p.Cmds() {
		var cmd types.Command
		switch c.Kind {
		case program.KindSend, program.KindSendMsg:
			cmd.Op = "send"
			if c.Kind == program.KindSendMsg {
				cmd.Op = "send_msg"
			}
			cmd.Hex = hex.EncodeToString(c.Buf.Base)
			cmd.Size = c.Buf.Size
			cmd.Fill = string(c.Buf.Fill)
		case program.KindRecv, program.KindRecvMsg:
			n := c.Watermark - last
			last = c.Watermark
			if c.Clear {
				last = 0
			}
			if c.Kind == program.KindRecv {
				cmd.Op, cmd.Bytes = "recv", n
			} else {
				cmd.Op, cmd.Pkts = "recv_msg", n
			}
			cmd.Clear = c.Clear
		case program.KindDelay:
			cmd.Op, cmd.Usec = "delay", c.Usec
		case program.KindDelayRand:
			cmd.Op, cmd.MinUsec, cmd.MaxUsec = "delay_rand", c.MinUsec, c.MaxUsec
		case program.KindKeepalive:
			cmd.Op, cmd.Msec, cmd.RxMode = "keepalive", c.Msec, c.RxMode
		case program.KindConnect:
			cmd.Op = "connect"
		case program.KindReset:
			cmd.Op = "reset"
		case program.KindNoClose:
			cmd.Op = "wait_for_peer_close"
		case program.KindCloseMsg:
			cmd.Op = "close_msg"
		case program.KindTxMode:
			cmd.Op, cmd.Block = "tx_mode", c.Flags == 0
		case program.KindExecTemplate:
			cmd.Op = "exec_template"
		default:
			return nil, fmt.Errorf("%w: cannot describe %s", program.ErrInvalidArgument, c.Kind)
		}
		out = append(out, cmd)
	}
	return out, nil
}
