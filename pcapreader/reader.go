package pcapreader

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/flowc/types"
)

// ErrNoFlow is returned for captures without a TCP or UDP packet.
var ErrNoFlow = errors.New("no tcp or udp flow in capture")

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

func detectFormat(path string) (format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// Read first 4 bytes to check magic
	header := make([]byte, 4)
	n, err := io.ReadFull(file, header)
	if err != nil || n < 4 {
		return "pcap", nil // let the pcap reader report it
	}

	// pcapng starts with a Section Header Block, 0x0A0D0D0A
	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	if magic == 0x0A0D0D0A {
		return "pcapng", nil
	}
	return "pcap", nil
}

func openPacketSource(path string) (packetSource, io.Closer, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	if format == "pcapng" {
		reader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, nil, err
		}
		return reader, file, nil
	}

	// Classic pcap, both byte orders and nanosecond variants
	reader, err := pcapgo.NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return reader, file, nil
}

type endpoint struct {
	addr netip.Addr
	port uint16
}

func (e endpoint) String() string { return netip.AddrPortFrom(e.addr, e.port).String() }

// segment is the transport view of one captured packet.
type segment struct {
	src, dst endpoint
	tcp      *layers.TCP
	payload  []byte
}

func decode(packet gopacket.Packet) (segment, bool) {
	var s segment
	switch net := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		s.src.addr, _ = netip.AddrFromSlice(net.SrcIP.To4())
		s.dst.addr, _ = netip.AddrFromSlice(net.DstIP.To4())
	case *layers.IPv6:
		s.src.addr, _ = netip.AddrFromSlice(net.SrcIP)
		s.dst.addr, _ = netip.AddrFromSlice(net.DstIP)
	default:
		return s, false
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		s.tcp = tcp
		s.src.port, s.dst.port = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		s.payload = tcp.Payload
		return s, true
	}
	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		s.src.port, s.dst.port = uint16(udp.SrcPort), uint16(udp.DstPort)
		s.payload = udp.Payload
		return s, true
	}
	return s, false
}

// ReadTrace reads the first TCP or UDP flow of a pcap or pcapng file.
//
// The client is the sender of the first packet of the flow, or its
// receiver when that packet is a SYN-ACK. Packets of other flows, packets
// without payload and TCP retransmissions are skipped. Consecutive TCP
// payloads of the same side are merged.
func ReadTrace(path string) (*types.Trace, error) {
	source, closer, err := openPacketSource(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var (
		tr      *types.Trace
		client  endpoint
		server  endpoint
		prev    time.Time
		nextSeq = make(map[types.Side]uint32)
		skipped int
	)

	packetSrc := gopacket.NewPacketSource(source, source.LinkType())
	packetSrc.DecodeOptions.Lazy = true
	packetSrc.DecodeOptions.NoCopy = true

	for packet := range packetSrc.Packets() {
		seg, ok := decode(packet)
		if !ok {
			continue
		}

		if tr == nil {
			client, server = seg.src, seg.dst
			if seg.tcp != nil && seg.tcp.SYN && seg.tcp.ACK {
				client, server = server, client
			}
			tr = &types.Trace{Stream: seg.tcp != nil, DstPort: int(server.port)}
			log.WithFields(log.Fields{
				"client": client.String(),
				"server": server.String(),
				"stream": tr.Stream,
			}).Debug("flow")
		}

		var dir types.Side
		switch {
		case seg.src == client && seg.dst == server:
			dir = types.SideClient
		case seg.src == server && seg.dst == client:
			dir = types.SideServer
		default:
			skipped++
			continue
		}
		if (seg.tcp != nil) != tr.Stream {
			skipped++
			continue
		}

		if seg.tcp != nil {
			seq := seg.tcp.Seq
			if seg.tcp.SYN {
				seq++
			}
			if next, ok := nextSeq[dir]; ok && len(seg.payload) > 0 && int32(seq-next) < 0 {
				log.WithField("seq", seq).Debug("retransmission")
				continue
			}
			nextSeq[dir] = seq + uint32(len(seg.payload))
		}
		if len(seg.payload) == 0 {
			continue
		}

		ts := packet.Metadata().Timestamp
		var delta time.Duration
		if !prev.IsZero() {
			delta = ts.Sub(prev)
		}
		prev = ts

		tr.Packets = append(tr.Packets, types.Packet{
			Payload: append([]byte(nil), seg.payload...),
			Delta:   delta,
			Dir:     dir,
		})
	}

	if tr == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFlow)
	}
	if skipped > 0 {
		log.WithField("packets", skipped).Debug("skipped packets of other flows")
	}
	if tr.Stream {
		tr.Condense()
	}
	return tr, nil
}
