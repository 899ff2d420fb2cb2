package program

import (
	"fmt"

	"github.com/samaelod/flowc/types"
)

// Delay and keepalive policy of message oriented imports, in usec.
const (
	MinDelay     = 50
	MaxDelay     = 700000
	MaxKeepalive = 500000

	// a second keepalive is added once any delay reaches this value
	longDelay = 900000

	// Ethernet + IPv4 + UDP headers
	l2l4Overhead = 14 + 20 + 8
)

// ImportOptions selects how a trace is turned into a program.
type ImportOptions struct {
	Side types.Side

	// UDPMTU truncates message payloads to UDPMTU-42 bytes when non zero.
	UDPMTU int

	// ServerDelay, a delay or delay_rnd, is spliced before each response
	// of a server side import.
	ServerDelay *Cmd
}

// FromTrace builds an uncompiled program for one side of tr.
func FromTrace(tr *types.Trace, opts ImportOptions) (*Program, error) {
	if !opts.Side.Valid() {
		return nil, fmt.Errorf("%w: side must be %q or %q", ErrInvalidArgument, types.SideClient, types.SideServer)
	}
	if opts.ServerDelay != nil && !opts.ServerDelay.IsDelay() {
		return nil, fmt.Errorf("%w: server delay must be delay or delay_rnd, got %s", ErrInvalidArgument, opts.ServerDelay.Kind)
	}

	p := New(tr.Stream)
	p.payloadLen = tr.PayloadLen()
	if len(tr.Packets) == 0 {
		return p, nil
	}

	var (
		cmds []*Cmd
		err  error
	)
	if tr.Stream {
		cmds = streamCmds(tr, opts.Side)
	} else {
		cmds, err = messageCmds(tr, opts)
		if err != nil {
			return nil, err
		}
	}

	if opts.ServerDelay != nil && opts.Side == types.SideServer {
		cmds = spliceServerDelay(cmds, opts.ServerDelay)
	}

	if !tr.Stream {
		var longest uint64
		for _, c := range cmds {
			switch c.Kind {
			case KindDelay:
				longest = max(longest, c.Usec)
			case KindDelayRand:
				longest = max(longest, c.MaxUsec)
			}
		}
		if longest >= longDelay {
			ka := uint64(float64(longest) / 1000 * 1.5)
			cmds = append([]*Cmd{NewKeepalive(ka, false)}, cmds...)
		}
	}

	for _, c := range cmds {
		p.Append(c)
	}
	return p, nil
}

func streamCmds(tr *types.Trace, side types.Side) []*Cmd {
	var (
		cmds []*Cmd
		rcv  uint64
	)
	// the importing side speaks second: wait for the connection first
	if tr.Packets[0].Dir == types.SideServer && side == types.SideServer {
		cmds = append(cmds, NewConnect())
	}
	for _, pkt := range tr.Packets {
		if pkt.Dir == side {
			cmds = append(cmds, NewSend(NewBuffer(pkt.Payload, 0, nil)))
			continue
		}
		rcv += uint64(len(pkt.Payload))
		cmds = append(cmds, NewRecv(rcv, false))
	}
	return cmds
}

func messageCmds(tr *types.Trace, opts ImportOptions) ([]*Cmd, error) {
	maxPayload := -1
	if opts.UDPMTU != 0 {
		if opts.UDPMTU <= l2l4Overhead {
			return nil, fmt.Errorf("%w: udp mtu %d must be bigger than %d", ErrInvalidArgument, opts.UDPMTU, l2l4Overhead)
		}
		maxPayload = opts.UDPMTU - l2l4Overhead
	}

	var (
		cmds     []*Cmd
		rcv      uint64
		pending  bool
		sent     bool
		maxDelay uint64
	)
	for _, pkt := range tr.Packets {
		if pkt.Dir != opts.Side {
			rcv++
			pending = true
			continue
		}

		if pending {
			cmds = append(cmds, NewRecvMsg(rcv, false))
			pending = false
		}
		if sent {
			usec := uint64(max(pkt.Delta.Microseconds(), 0))
			if usec > MaxDelay {
				usec = MaxDelay
			}
			if usec > MinDelay {
				cmds = append(cmds, NewDelay(usec))
				maxDelay = max(maxDelay, usec)
			}
		}

		payload := pkt.Payload
		if maxPayload >= 0 && len(payload) > maxPayload {
			payload = payload[:maxPayload]
		}
		cmds = append(cmds, NewSendMsg(NewBuffer(payload, 0, nil)))
		sent = true
	}
	if pending {
		cmds = append(cmds, NewRecvMsg(rcv, false))
	}

	if maxDelay > MaxKeepalive {
		cmds = append([]*Cmd{NewKeepalive(maxDelay*2, false)}, cmds...)
	}
	return cmds, nil
}

// spliceServerDelay inserts delay between a receive and the send that
// answers it, when both are of the same transport.
func spliceServerDelay(cmds []*Cmd, delay *Cmd) []*Cmd {
	out := make([]*Cmd, 0, len(cmds)+1)
	lastRecv := Kind(0)
	haveRecv := false
	for _, c := range cmds {
		switch c.Kind {
		case KindRecv, KindRecvMsg:
			lastRecv, haveRecv = c.Kind, true
		case KindSend, KindSendMsg:
			if haveRecv && lastRecv.Transport() == c.Kind.Transport() {
				out = append(out, delay.clone())
				haveRecv = false
			}
		}
		out = append(out, c)
	}
	return out
}
