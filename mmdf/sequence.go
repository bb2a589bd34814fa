package mmdf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/infodancer/mmdfstore/errors"
)

// star stands for the last message number or the highest UID.
const star = ^uint32(0)

type seqRange struct {
	from, to uint32
}

// SeqSet is a set of messages named by message number or, when UID is set,
// by UID, in IMAP syntax: "1,3:5,7:*".
type SeqSet struct {
	ranges []seqRange
	UID    bool
}

// ParseSeqSet parses an IMAP sequence set.
func ParseSeqSet(s string) (SeqSet, error) {
	var set SeqSet
	if s == "" {
		return set, fmt.Errorf("%w: empty", errors.ErrBadSequence)
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, ":")
		from, err := parseSeqNum(lo)
		if err != nil {
			return SeqSet{}, err
		}
		to := from
		if isRange {
			if to, err = parseSeqNum(hi); err != nil {
				return SeqSet{}, err
			}
		}
		set.ranges = append(set.ranges, seqRange{from, to})
	}
	return set, nil
}

func parseSeqNum(s string) (uint32, error) {
	if s == "*" {
		return star, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", errors.ErrBadSequence, s)
	}
	return uint32(n), nil
}

// Nums returns a set of the given message numbers.
func Nums(nums ...int) SeqSet {
	var set SeqSet
	for _, n := range nums {
		set.ranges = append(set.ranges, seqRange{uint32(n), uint32(n)})
	}
	return set
}

// UIDs returns a set of the given UIDs.
func UIDs(uids ...uint32) SeqSet {
	set := SeqSet{UID: true}
	for _, u := range uids {
		set.ranges = append(set.ranges, seqRange{u, u})
	}
	return set
}

// String formats the set in IMAP syntax.
func (s SeqSet) String() string {
	var b strings.Builder
	num := func(n uint32) {
		if n == star {
			b.WriteByte('*')
		} else {
			b.WriteString(strconv.FormatUint(uint64(n), 10))
		}
	}
	for i, r := range s.ranges {
		if i > 0 {
			b.WriteByte(',')
		}
		num(r.from)
		if r.to != r.from {
			b.WriteByte(':')
			num(r.to)
		}
	}
	return b.String()
}

func (r seqRange) contains(n, max uint32) bool {
	from, to := r.from, r.to
	if from == star {
		from = max
	}
	if to == star {
		to = max
	}
	if from > to {
		from, to = to, from
	}
	return n >= from && n <= to
}

// resolve returns the indexes into msgs selected by set, in message order.
// Message numbers beyond the mailbox are an error; UIDs that do not exist
// are skipped.
func resolve(set SeqSet, msgs []*message) ([]int, error) {
	if len(set.ranges) == 0 {
		return nil, fmt.Errorf("%w: empty", errors.ErrBadSequence)
	}
	if !set.UID {
		n := uint32(len(msgs))
		for _, r := range set.ranges {
			if (r.from != star && r.from > n) || (r.to != star && r.to > n) {
				return nil, fmt.Errorf("%w: %s", errors.ErrBadSequence, set)
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: mailbox is empty", errors.ErrBadSequence)
		}
	}
	var maxUID uint32
	if len(msgs) > 0 {
		maxUID = msgs[len(msgs)-1].uid
	}
	var out []int
	for i, m := range msgs {
		key, max := uint32(i+1), uint32(len(msgs))
		if set.UID {
			key, max = m.uid, maxUID
		}
		for _, r := range set.ranges {
			if r.contains(key, max) {
				out = append(out, i)
				break
			}
		}
	}
	return out, nil
}
