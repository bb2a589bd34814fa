package mmdf

import (
	"bytes"
	"strings"
)

// fieldKind classifies a header line by the internal field it carries.
type fieldKind int

const (
	fieldOther fieldKind = iota
	fieldStatus
	fieldXStatus
	fieldKeywords
	fieldUID
	fieldIMAP
	fieldIMAPBase
	fieldBogus // internal field name in the wrong case or form
)

// internal reports whether lines of this kind are hidden from the header.
func (k fieldKind) internal() bool {
	return k != fieldOther
}

var internalPrefixes = []struct {
	prefix string
	kind   fieldKind
}{
	{"Status:", fieldStatus},
	{"X-Status:", fieldXStatus},
	{"X-Keywords:", fieldKeywords},
	{"X-UID:", fieldUID},
	{"X-IMAP:", fieldIMAP},
	{"X-IMAPbase:", fieldIMAPBase},
}

var internalNames = map[string]bool{
	"STATUS":     true,
	"X-STATUS":   true,
	"X-KEYWORDS": true,
	"X-UID":      true,
	"X-IMAP":     true,
	"X-IMAPBASE": true,
}

// classifyField returns the kind of line and, for recognized fields, the
// value following the colon. For bogus fields name is the offending name.
func classifyField(line []byte) (kind fieldKind, value []byte, name string) {
	if len(line) == 0 {
		return fieldOther, nil, ""
	}
	for _, p := range internalPrefixes {
		if bytes.HasPrefix(line, []byte(p.prefix)) {
			return p.kind, line[len(p.prefix):], ""
		}
	}
	c := line[0]
	if c != 'S' && c != 's' && !((c == 'X' || c == 'x') && len(line) > 1 && line[1] == '-') {
		return fieldOther, nil, ""
	}
	end := 0
	for end < len(line) {
		b := line[end]
		if b == ':' || b == ' ' || b == '\t' || b == '\r' || b == '\n' || b < ' ' {
			break
		}
		end++
	}
	n := strings.ToUpper(string(line[:end]))
	if internalNames[n] {
		return fieldBogus, nil, n
	}
	return fieldOther, nil, ""
}

func isContinuation(line []byte) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

func isBlankLine(line []byte) bool {
	return len(line) == 0 || line[0] == '\n' || (line[0] == '\r' && len(line) > 1 && line[1] == '\n')
}

// lfLen returns the length of line with a trailing CRLF counted as LF.
func lfLen(line []byte) int {
	n := len(line)
	if n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
		return n - 1
	}
	return n
}

// headerFilter decides which raw header lines belong to the visible
// header. Parsing and rewriting use the same filter, so the filtered size
// recorded at parse time always matches what a rewrite emits.
type headerFilter struct {
	retain bool
}

func newHeaderFilter() headerFilter {
	return headerFilter{retain: true}
}

// keep reports whether line is part of the visible header. A continuation
// line survives only when the line it continues was kept.
func (f *headerFilter) keep(line []byte, kind fieldKind) bool {
	if kind.internal() {
		f.retain = false
		return false
	}
	if f.retain || !isContinuation(line) {
		f.retain = true
		return true
	}
	return false
}

// filterHeader returns the visible header lines of raw in LF form, without
// the blank separator line.
func filterHeader(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	f := newHeaderFilter()
	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i+1], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		if isBlankLine(line) {
			break
		}
		kind, _, _ := classifyField(line)
		if !f.keep(line, kind) {
			continue
		}
		if n := lfLen(line); n < len(line) {
			out = append(out, line[:n-1]...)
			out = append(out, '\n')
		} else {
			out = append(out, line...)
		}
	}
	return out
}

// parseFlagChars applies the flag letters of a Status or X-Status value.
// The returned bool reports whether the message was marked old.
func parseFlagChars(value []byte, flags *Flags) (old bool) {
	for _, c := range value {
		switch c {
		case '\n':
			return old
		case 'R':
			*flags |= FlagSeen
		case 'O':
			old = true
		case 'D':
			*flags |= FlagDeleted
		case 'F':
			*flags |= FlagFlagged
		case 'A':
			*flags |= FlagAnswered
		case 'T':
			*flags |= FlagDraft
		}
	}
	return old
}

// tokens splits a field value on spaces, stopping at the end of the line.
func tokens(value []byte) [][]byte {
	if i := bytes.IndexAny(value, "\r\n"); i >= 0 {
		value = value[:i]
	}
	return bytes.Fields(value)
}

// parseDecimal reads a leading run of digits. ok is false when there is none.
func parseDecimal(b []byte) (n uint32, rest []byte, ok bool) {
	i := 0
	var v uint64
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		v = v*10 + uint64(b[i]-'0')
		if v > 0xffffffff {
			v = 0xffffffff
		}
		i++
	}
	return uint32(v), b[i:], i > 0
}

// toCRLF converts LF line ends to CRLF, leaving existing CRLF alone.
func toCRLF(b []byte) []byte {
	out := make([]byte, 0, len(b)+bytes.Count(b, []byte{'\n'}))
	for i, c := range b {
		if c == '\n' && (i == 0 || b[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, c)
	}
	return out
}

// squeezeCR folds CRLF to LF.
func squeezeCR(b []byte) []byte {
	if bytes.IndexByte(b, '\r') < 0 {
		return b
	}
	out := b[:0]
	for i := 0; i < len(b); i++ {
		if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
			continue
		}
		out = append(out, b[i])
	}
	return out
}
