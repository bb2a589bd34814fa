package mmdf

import (
	"strings"

	"github.com/infodancer/mmdfstore/errors"
)

// Flags is the set of system flags of a message.
type Flags uint8

const (
	FlagSeen Flags = 1 << iota
	FlagDeleted
	FlagFlagged
	FlagAnswered
	FlagDraft
	FlagRecent
)

// permanentFlags are the flags stored in the pseudo-header.
const permanentFlags = FlagSeen | FlagDeleted | FlagFlagged | FlagAnswered | FlagDraft

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagSeen, `\Seen`},
	{FlagDeleted, `\Deleted`},
	{FlagFlagged, `\Flagged`},
	{FlagAnswered, `\Answered`},
	{FlagDraft, `\Draft`},
	{FlagRecent, `\Recent`},
}

// Has reports whether all of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Strings returns the IMAP names of the set flags.
func (f Flags) Strings() []string {
	var out []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// ParseFlags splits an IMAP flag list such as `\Seen \Flagged work` into
// system flags and keyword names. \Recent cannot be set by clients and is
// ignored.
func ParseFlags(s string) (Flags, []string) {
	var flags Flags
	var keywords []string
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	for _, tok := range strings.Fields(s) {
		if !strings.HasPrefix(tok, `\`) {
			keywords = append(keywords, tok)
			continue
		}
		for _, n := range flagNames {
			if strings.EqualFold(tok, n.name) && n.flag != FlagRecent {
				flags |= n.flag
			}
		}
	}
	return flags, keywords
}

// maxKeywords is the number of keyword slots of a mailbox.
const maxKeywords = 30

// maxKeywordLen bounds keyword tokens accepted from X-Keywords lines.
const maxKeywordLen = 64

// keywordTable maps slot numbers to keyword names. A slot number is the bit
// position in a message keyword mask. Filled slots are never changed.
type keywordTable [maxKeywords]string

// lookup returns the slot of name, matched without regard to case.
func (t *keywordTable) lookup(name string) (int, bool) {
	for i, kw := range t {
		if kw == "" {
			break
		}
		if strings.EqualFold(kw, name) {
			return i, true
		}
	}
	return 0, false
}

// add returns the slot of name, creating it in the first free slot.
func (t *keywordTable) add(name string) (int, error) {
	if i, ok := t.lookup(name); ok {
		return i, nil
	}
	if !validKeyword(name) {
		return 0, errors.ErrBadKeyword
	}
	for i, kw := range t {
		if kw == "" {
			t[i] = name
			return i, nil
		}
	}
	return 0, errors.ErrTooManyKeywords
}

// names returns the filled slots in slot order.
func (t *keywordTable) names() []string {
	var out []string
	for _, kw := range t {
		if kw == "" {
			break
		}
		out = append(out, kw)
	}
	return out
}

// full reports whether no more keywords can be created.
func (t *keywordTable) full() bool {
	return t[maxKeywords-1] != ""
}

func validKeyword(name string) bool {
	if name == "" || len(name) >= maxKeywordLen || strings.HasPrefix(name, `\`) {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`(){%*"]`, c) >= 0 {
			return false
		}
	}
	return true
}

// mask converts keyword names to a slot mask, creating slots when create is
// set. Unknown names are skipped when create is false.
func (t *keywordTable) mask(names []string, create bool) (uint32, error) {
	var m uint32
	for _, name := range names {
		var i int
		var ok bool
		if create {
			var err error
			if i, err = t.add(name); err != nil {
				return 0, err
			}
			ok = true
		} else {
			i, ok = t.lookup(name)
		}
		if ok {
			m |= 1 << uint(i)
		}
	}
	return m, nil
}

// keywordNames returns the names of the slots set in m, lowest slot first.
func (t *keywordTable) keywordNames(m uint32) []string {
	var out []string
	for i := 0; i < maxKeywords && m != 0; i++ {
		if m&(1<<uint(i)) == 0 {
			continue
		}
		m &^= 1 << uint(i)
		if t[i] != "" {
			out = append(out, t[i])
		}
	}
	return out
}
