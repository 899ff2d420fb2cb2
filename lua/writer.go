package lua

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/samaelod/flowc/types"
)

// WriteConfig writes cfg as a Lua description that ReadConfig reads back.
func WriteConfig(w io.Writer, cfg *types.Config) error {
	b := bufio.NewWriter(w)

	fmt.Fprintln(b, "local config = {}")
	fmt.Fprintln(b)

	// Globals
	fmt.Fprintln(b, "-- GLOBALS ----------------------------------------")
	fmt.Fprintln(b, "config.globals = {")
	if cfg.Globals.UDPMTU != 0 {
		fmt.Fprintf(b, "\tudp_mtu = %d,\n", cfg.Globals.UDPMTU)
	}
	if cfg.Globals.SDelay != nil {
		fmt.Fprintf(b, "\ts_delay = %s,\n", delayTable(cfg.Globals.SDelay))
	}
	writeGlobInfo(b, 1, "c_glob_info", cfg.Globals.CGlobInfo)
	writeGlobInfo(b, 1, "s_glob_info", cfg.Globals.SGlobInfo)
	fmt.Fprintln(b, "}")
	fmt.Fprintln(b)

	// IP generator
	fmt.Fprintln(b, "-- IP GENERATOR -----------------------------------")
	fmt.Fprintf(b, "config.ip_gen = %s\n", ipGenTable(cfg.IPGen, 0))
	fmt.Fprintln(b)

	// Templates
	fmt.Fprintln(b, "-- TEMPLATES --------------------------------------")
	fmt.Fprintln(b, "config.templates = {")
	for _, t := range cfg.Templates {
		writeTemplate(b, t)
	}
	fmt.Fprintln(b, "}")
	fmt.Fprintln(b)

	// Caps
	fmt.Fprintln(b, "-- CAPS -------------------------------------------")
	fmt.Fprintln(b, "config.caps = {")
	for _, c := range cfg.Caps {
		writeCap(b, c)
	}
	fmt.Fprintln(b, "}")
	fmt.Fprintln(b)
	fmt.Fprintln(b, "return config")

	return b.Flush()
}

func writeTemplate(w io.Writer, t types.Template) {
	fmt.Fprintln(w, "\t{")
	if t.TGName != nil {
		fmt.Fprintf(w, "\t\ttg_name = %s,\n", quote(*t.TGName))
	}
	if t.UDP {
		fmt.Fprintln(w, "\t\tudp = true,")
	}
	if t.IPGen != nil {
		fmt.Fprintf(w, "\t\tip_gen = %s,\n", ipGenTable(*t.IPGen, 2))
	}

	c := t.Client
	fmt.Fprintln(w, "\t\tclient = {")
	if c.Port != 0 {
		fmt.Fprintf(w, "\t\t\tport = %d,\n", c.Port)
	}
	if c.CPS != 0 {
		fmt.Fprintf(w, "\t\t\tcps = %s,\n", number(c.CPS))
	}
	if c.Limit != 0 {
		fmt.Fprintf(w, "\t\t\tlimit = %d,\n", c.Limit)
		fmt.Fprintf(w, "\t\t\tcont = %t,\n", c.Cont)
	}
	if c.Addon != "" {
		fmt.Fprintf(w, "\t\t\taddon = %s,\n", quote(c.Addon))
	}
	writeGlobInfo(w, 3, "glob_info", c.GlobInfo)
	writeProgram(w, c.Program)
	fmt.Fprintln(w, "\t\t},")

	s := t.Server
	fmt.Fprintln(w, "\t\tserver = {")
	if len(s.Assoc) > 0 {
		fmt.Fprintln(w, "\t\t\tassoc = {")
		for _, r := range s.Assoc {
			fmt.Fprintf(w, "\t\t\t\t%s,\n", assocTable(r))
		}
		fmt.Fprintln(w, "\t\t\t},")
	}
	if s.Addon != "" {
		fmt.Fprintf(w, "\t\t\taddon = %s,\n", quote(s.Addon))
	}
	writeGlobInfo(w, 3, "glob_info", s.GlobInfo)
	writeProgram(w, s.Program)
	fmt.Fprintln(w, "\t\t},")
	fmt.Fprintln(w, "\t},")
}

func writeProgram(w io.Writer, cmds []types.Command) {
	fmt.Fprintln(w, "\t\t\tprogram = {")
	for _, c := range cmds {
		fmt.Fprintf(w, "\t\t\t\t%s,\n", commandTable(c))
	}
	fmt.Fprintln(w, "\t\t\t},")
}

func writeCap(w io.Writer, c types.Cap) {
	fmt.Fprintln(w, "\t{")
	fmt.Fprintf(w, "\t\tfile = %s,\n", quote(c.File))
	if c.CPS != 0 {
		fmt.Fprintf(w, "\t\tcps = %s,\n", number(c.CPS))
	}
	if c.L7Percent != 0 {
		fmt.Fprintf(w, "\t\tl7_percent = %s,\n", number(c.L7Percent))
	}
	if c.Port != 0 {
		fmt.Fprintf(w, "\t\tport = %d,\n", c.Port)
	}
	if len(c.Assoc) > 0 {
		fmt.Fprintln(w, "\t\tassoc = {")
		for _, r := range c.Assoc {
			fmt.Fprintf(w, "\t\t\t%s,\n", assocTable(r))
		}
		fmt.Fprintln(w, "\t\t},")
	}
	if c.IPGen != nil {
		fmt.Fprintf(w, "\t\tip_gen = %s,\n", ipGenTable(*c.IPGen, 2))
	}
	if c.Limit != 0 {
		fmt.Fprintf(w, "\t\tlimit = %d,\n", c.Limit)
		fmt.Fprintf(w, "\t\tcont = %t,\n", c.Cont)
	}
	if c.TGName != nil {
		fmt.Fprintf(w, "\t\ttg_name = %s,\n", quote(*c.TGName))
	}
	if c.SDelay != nil {
		fmt.Fprintf(w, "\t\ts_delay = %s,\n", delayTable(c.SDelay))
	}
	if c.UDPMTU != 0 {
		fmt.Fprintf(w, "\t\tudp_mtu = %d,\n", c.UDPMTU)
	}
	writeGlobInfo(w, 2, "c_glob_info", c.CGlobInfo)
	writeGlobInfo(w, 2, "s_glob_info", c.SGlobInfo)
	fmt.Fprintln(w, "\t},")
}

// table renders an inline table from key/value pairs, skipping empty values.
func table(kv ...string) string {
	var parts []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			parts = append(parts, kv[i]+" = "+kv[i+1])
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func str(s string) string {
	if s == "" {
		return ""
	}
	return quote(s)
}

func unsigned(v uint64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(v, 10)
}

func integer(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func boolean(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

func number(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func commandTable(c types.Command) string {
	kv := []string{
		"op", quote(c.Op),
		"buf", str(c.Buf),
		"hex", str(c.Hex),
		"size", integer(int64(c.Size)),
		"fill", str(c.Fill),
		"chunk", integer(int64(c.Chunk)),
		"bytes", unsigned(c.Bytes),
		"pkts", unsigned(c.Pkts),
		"clear", boolean(c.Clear),
		"usec", unsigned(c.Usec),
		"min_usec", unsigned(c.MinUsec),
		"max_usec", unsigned(c.MaxUsec),
		"msec", unsigned(c.Msec),
		"rx_mode", boolean(c.RxMode),
		"block", boolean(c.Block),
		"var", str(c.Var),
		"val", integer(c.Val),
		"stats", str(c.Stats),
		"name", str(c.Name),
		"label", str(c.Label),
		"cmp", str(c.Cmp),
		"template", str(c.Template),
	}
	if c.Duration != 0 {
		kv = append(kv, "duration", number(c.Duration))
	}
	// a zero receive count is still written
	switch {
	case c.Op == "recv" && c.Bytes == 0:
		kv = append(kv, "bytes", "0")
	case c.Op == "recv_msg" && c.Pkts == 0:
		kv = append(kv, "pkts", "0")
	}
	return table(kv...)
}

func delayTable(d *types.Delay) string {
	return table(
		"usec", unsigned(d.Usec),
		"min_usec", unsigned(d.MinUsec),
		"max_usec", unsigned(d.MaxUsec),
	)
}

func poolTable(p types.Pool) string {
	return table(
		"ip_start", str(p.IPStart),
		"ip_end", str(p.IPEnd),
		"distribution", str(p.Distribution),
		"per_core_distribution", str(p.PerCoreDistribution),
	)
}

func ipGenTable(g types.IPGen, depth int) string {
	indent := strings.Repeat("\t", depth)
	var sb strings.Builder
	sb.WriteString("{\n")
	fmt.Fprintf(&sb, "%s\tclient = %s,\n", indent, poolTable(g.Client))
	fmt.Fprintf(&sb, "%s\tserver = %s,\n", indent, poolTable(g.Server))
	if g.IPOffset != "" {
		fmt.Fprintf(&sb, "%s\tip_offset = %s,\n", indent, quote(g.IPOffset))
	}
	if g.IPOffsetServer != "" {
		fmt.Fprintf(&sb, "%s\tip_offset_server = %s,\n", indent, quote(g.IPOffsetServer))
	}
	sb.WriteString(indent + "}")
	return sb.String()
}

func assocTable(r types.AssocRule) string {
	kv := []string{
		"port", integer(int64(r.Port)),
		"ip_start", str(r.IPStart),
		"ip_end", str(r.IPEnd),
	}
	if len(r.L7Map) > 0 {
		offsets := make([]string, len(r.L7Map))
		for i, o := range r.L7Map {
			offsets[i] = strconv.Itoa(o)
		}
		kv = append(kv, "l7_map", "{ "+strings.Join(offsets, ", ")+" }")
	}
	if r.AssocID != nil {
		kv = append(kv, "assoc_id", strconv.FormatInt(*r.AssocID, 10))
	}
	return table(kv...)
}

func writeGlobInfo(w io.Writer, depth int, name string, g types.GlobInfo) {
	if len(g) == 0 {
		return
	}
	m := make(map[string]interface{}, len(g))
	for k, v := range g {
		m[k] = v
	}
	fmt.Fprintf(w, "%s%s = %s,\n", strings.Repeat("\t", depth), name, value(m, depth))
}

// value renders a glob info value. Map keys are sorted so the output is
// stable.
func value(v interface{}, depth int) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case string:
		return quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return number(v)
	case []interface{}:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = value(e, depth+1)
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		indent := strings.Repeat("\t", depth)
		var sb strings.Builder
		sb.WriteString("{\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s\t[%s] = %s,\n", indent, quote(k), value(v[k], depth+1))
		}
		sb.WriteString(indent + "}")
		return sb.String()
	default:
		return quote(fmt.Sprint(v))
	}
}

// quote produces a Lua 5.1 string literal. Bytes outside printable ASCII
// use decimal escapes, which is all gopher-lua understands.
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(&sb, `\%03d`, c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
