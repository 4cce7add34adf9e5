package affinity

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Line format, one program per line:
//
//	<class>:[<ws>;<ts>,<ws>;<ts>,...]&[<x>;<y>;<w>;<h>]
//
// Both bracket groups may be empty ("firefox:[]&[]").

// Encode renders r as a single line without the trailing newline.
func Encode(r Record) string {
	var b strings.Builder
	b.WriteString(r.Class)
	b.WriteString(":[")
	for i, p := range r.Placements {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(int64(p.Workspace), 10))
		b.WriteByte(';')
		b.WriteString(strconv.FormatInt(p.Timestamp, 10))
	}
	b.WriteString("]&[")
	if g := r.Floating; g != nil {
		fmt.Fprintf(&b, "%d;%d;%d;%d", g.X, g.Y, g.W, g.H)
	}
	b.WriteByte(']')
	return b.String()
}

// Decode parses one line. A malformed history is a *FormatError; a missing or
// malformed geometry group only means "no geometry".
func Decode(line string) (Record, error) {
	fail := func(reason string) (Record, error) {
		return Record{}, &FormatError{Text: line, Reason: reason}
	}

	class, rest, ok := strings.Cut(line, ":")
	if !ok {
		return fail("missing ':' after class")
	}
	if !Trackable(class) {
		return fail("empty class")
	}

	history, geometry, _ := strings.Cut(rest, "&")
	inner, ok := bracketed(history)
	if !ok {
		return fail("placement history is not a bracketed list")
	}

	r := Record{Class: class}
	if inner != "" {
		items := strings.Split(inner, ",")
		r.Placements = make([]Placement, 0, len(items))
		for _, item := range items {
			ws, ts, ok := strings.Cut(item, ";")
			if !ok || strings.Contains(ts, ";") {
				return fail(fmt.Sprintf("placement %q is not <workspace>;<timestamp>", item))
			}
			id, err := strconv.ParseInt(ws, 10, 32)
			if err != nil {
				return fail(fmt.Sprintf("workspace id %q: %v", ws, err))
			}
			stamp, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				return fail(fmt.Sprintf("timestamp %q: %v", ts, err))
			}
			r.Placements = append(r.Placements, Placement{Workspace: int32(id), Timestamp: stamp})
		}
	}

	r.Floating = decodeGeometry(geometry)
	return r, nil
}

func decodeGeometry(s string) *Geometry {
	inner, ok := bracketed(s)
	if !ok || inner == "" {
		return nil
	}
	parts := strings.Split(inner, ";")
	if len(parts) != 4 {
		return nil
	}
	var vals [4]int16
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 16)
		if err != nil {
			return nil
		}
		vals[i] = int16(v)
	}
	return &Geometry{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
}

func bracketed(s string) (string, bool) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return "", false
	}
	return s[1 : len(s)-1], true
}

// DecodeAll reads one record per line. Blank lines are skipped; the first bad
// line, or a second line for a class already read, aborts the whole read so
// history is never silently dropped.
func DecodeAll(r io.Reader) ([]Record, error) {
	var records []Record
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		rec, err := Decode(line)
		if err != nil {
			if fe, ok := err.(*FormatError); ok {
				fe.Line = n
			}
			return nil, err
		}
		if _, dup := seen[rec.Class]; dup {
			return nil, &FormatError{Line: n, Text: line, Reason: "duplicate class"}
		}
		seen[rec.Class] = struct{}{}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

// EncodeAll writes records as newline-terminated lines.
func EncodeAll(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := bw.WriteString(Encode(r)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
