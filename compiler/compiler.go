// Package compiler drives a profile from its source file to the JSON
// document read by the traffic engine.
package compiler

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/samaelod/flowc/ipgen"
	"github.com/samaelod/flowc/lua"
	"github.com/samaelod/flowc/pcapreader"
	"github.com/samaelod/flowc/profile"
	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// Addresses used for captures compiled without a description.
const (
	DefaultClientStart = "16.0.0.1"
	DefaultClientEnd   = "16.0.0.255"
	DefaultServerStart = "48.0.0.1"
	DefaultServerEnd   = "48.0.255.255"
)

// ZstdExt marks compressed output files.
const ZstdExt = ".zst"

type Options struct {
	// UDPMTU applies to captures that set no limit of their own.
	UDPMTU   int
	Pretty   bool
	Compress bool
	// Log receives progress entries; log.Log when nil.
	Log log.Interface
}

// Compiler holds one loaded profile.
type Compiler struct {
	opts Options
	log  log.Interface

	Source  string
	Config  *types.Config
	Profile *profile.Profile
}

func New(opts Options) *Compiler {
	l := opts.Log
	if l == nil {
		l = log.Log
	}
	return &Compiler{opts: opts, log: l}
}

// IsCapture reports whether path names a capture file rather than a Lua
// description.
func IsCapture(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng", ".cap":
		return true
	}
	return false
}

// Traces reads cap files with pcapreader.
var Traces = profile.TraceReaderFunc(pcapreader.ReadTrace)

// DefaultIPGen is the address generator of descriptions made for a bare
// capture.
func DefaultIPGen() types.IPGen {
	return types.IPGen{
		Client: types.Pool{IPStart: DefaultClientStart, IPEnd: DefaultClientEnd, Distribution: ipgen.DistSeq},
		Server: types.Pool{IPStart: DefaultServerStart, IPEnd: DefaultServerEnd, Distribution: ipgen.DistSeq},
	}
}

// CaptureConfig is the description of a profile made of one capture
// replayed at one connection per second.
func CaptureConfig(path string) (*types.Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	return &types.Config{
		IPGen: DefaultIPGen(),
		Caps:  []types.Cap{{File: abs, CPS: 1}},
	}, nil
}

// ExplicitConfig imports a capture into a description with one template
// whose programs are spelled out, ready to be edited by hand.
func ExplicitConfig(path string, udpMTU int) (*types.Config, error) {
	tr, err := pcapreader.ReadTrace(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	sides := make(map[types.Side][]types.Command, 2)
	progs := make(map[types.Side]*program.Program, 2)
	for _, side := range []types.Side{types.SideClient, types.SideServer} {
		p, err := program.FromTrace(tr, program.ImportOptions{Side: side, UDPMTU: udpMTU})
		if err != nil {
			return nil, errors.Wrapf(err, "import %s side", side)
		}
		progs[side] = p
	}
	program.ShareKeepalive(progs[types.SideClient], progs[types.SideServer], !tr.Stream)
	for side, p := range progs {
		cmds, err := lua.CommandsFromProgram(p)
		if err != nil {
			return nil, errors.Wrapf(err, "describe %s side", side)
		}
		sides[side] = cmds
	}

	return &types.Config{
		IPGen: DefaultIPGen(),
		Templates: []types.Template{{
			UDP:    !tr.Stream,
			Client: types.ClientSide{Port: tr.DstPort, CPS: 1, Program: sides[types.SideClient]},
			Server: types.ServerSide{Program: sides[types.SideServer]},
		}},
	}, nil
}

// Load reads a Lua description or a capture and builds its profile.
func (c *Compiler) Load(path string) error {
	var (
		cfg *types.Config
		err error
	)
	if IsCapture(path) {
		cfg, err = CaptureConfig(path)
	} else {
		cfg, err = lua.ReadConfig(path)
	}
	if err != nil {
		return err
	}
	if cfg.Globals.UDPMTU == 0 {
		cfg.Globals.UDPMTU = c.opts.UDPMTU
	}

	p, err := lua.Build(cfg, Traces)
	if err != nil {
		return errors.Wrapf(err, "build %s", path)
	}

	c.Source, c.Config, c.Profile = path, cfg, p
	c.log.WithFields(log.Fields{
		"source":    path,
		"templates": len(p.Templates),
		"groups":    len(p.Groups()),
	}).Info("loaded profile")
	return nil
}

// Compile fills the profile caches and returns the document.
func (c *Compiler) Compile() (*profile.Document, error) {
	if c.Profile == nil {
		return nil, errors.New("no profile loaded")
	}
	doc, err := c.Profile.Document()
	if err != nil {
		return nil, errors.Wrapf(err, "compile %s", c.Source)
	}
	c.log.WithFields(log.Fields{
		"buffers":  doc.BufList.Len(),
		"programs": doc.ProgramList.Len(),
		"pools":    doc.IPGenDistList.Len(),
	}).Debug("compiled profile")
	return doc, nil
}

// Marshal compiles the profile and encodes the document.
func (c *Compiler) Marshal() ([]byte, error) {
	doc, err := c.Compile()
	if err != nil {
		return nil, err
	}
	if c.opts.Pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

// Write writes the document to w, zstd compressed when compress is set.
func (c *Compiler) Write(w io.Writer, compress bool) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if compress {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return errors.Wrap(err, "zstd")
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return errors.Wrap(err, "zstd")
		}
		return errors.Wrap(enc.Close(), "zstd")
	}
	_, err = w.Write(data)
	return err
}

// OutputPath is the default output file for source inside dir.
func OutputPath(source, dir string, compress bool) string {
	base := filepath.Base(source)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
	if compress {
		name += ZstdExt
	}
	return filepath.Join(dir, name)
}

// WriteFile writes the document to path. Output is compressed when path
// ends in ".zst" or the compiler was set up to compress.
func (c *Compiler) WriteFile(path string) error {
	compress := c.opts.Compress || strings.HasSuffix(path, ZstdExt)
	if compress && !strings.HasSuffix(path, ZstdExt) {
		path += ZstdExt
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	if err := c.Write(f, compress); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close output file")
	}
	c.log.WithFields(log.Fields{"path": path, "compressed": compress}).Info("wrote profile")
	return nil
}

// ReadDocument reads back a written document, compressed or not, as
// generic JSON.
func ReadDocument(path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ZstdExt) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		defer dec.Close()
		r = dec
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return doc, nil
}

// Stats compiles the profile and summarizes its load.
func (c *Compiler) Stats() (*profile.Stats, error) {
	if c.Profile == nil {
		return nil, errors.New("no profile loaded")
	}
	return c.Profile.Stats()
}
