package mmdf

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// envelope holds the date fields found in a "From " envelope line.
//
// Known layouts, each optionally followed by " remote from host":
//
//	From user Wed Dec  2 05:53 1992
//	From user Wed Dec  2 05:53:22 1992
//	From user Wed Dec  2 05:53 PST 1992
//	From user Wed Dec  2 05:53:22 PST 1992
//	From user Wed Dec  2 05:53 -0700 1992
//	From user Wed Dec  2 05:53:22 -0700 1992
//	From user Wed Dec  2 05:53 1992 PST
//	From user Wed Dec  2 05:53:22 1992 PST
//	From user Wed Dec  2 05:53 1992 -0700
//	From user Wed Dec  2 05:53:22 1992 -0700
type envelope struct {
	line    []byte
	timeAt  int  // index of the space before hh:mm
	zoneAt  int  // index of the space before the zone
	hasZone bool // zoneAt is meaningful
}

// scanEnvelope checks whether line is a valid envelope line. The sender may
// contain unquoted spaces, so the line is validated from its end backwards.
func scanEnvelope(line []byte) (envelope, bool) {
	var env envelope
	if !bytes.HasPrefix(line, []byte("From ")) {
		return env, false
	}
	nl := bytes.IndexByte(line[5:], '\n')
	if nl < 0 {
		return env, false
	}
	x := nl + 5
	if line[x-1] == '\r' {
		x--
	}
	at := func(i int) byte {
		if i < 0 || i >= len(line) {
			return 0
		}
		return line[i]
	}

	// A UUCP relay suffix " remote from host" with a host of up to 10
	// characters hides the date; step over it.
	if x >= 41 {
		for k := 2; k <= 11; k++ {
			if at(x-k) == ' ' {
				if r := x - k - 12; r >= 0 && bytes.HasPrefix(line[r:], []byte(" remote from")) {
					x = r
				}
				break
			}
		}
	}
	if x < 27 {
		return env, false
	}

	var ti, zn int
	switch {
	case at(x-5) == ' ':
		// Line ends with the year.
		ti = -5
		switch {
		case at(x-8) == ':':
			zn = 0
		case at(x-9) == ' ':
			ti, zn = -9, -9
		case at(x-11) == ' ' && (at(x-10) == '+' || at(x-10) == '-'):
			ti, zn = -11, -11
		default:
			return env, false
		}
	case at(x-4) == ' ':
		// Year followed by an alphabetic zone.
		zn = -4
		if at(x-9) != ' ' {
			return env, false
		}
		ti = -9
	default:
		// Year followed by a numeric zone.
		zn = -6
		if at(x-6) != ' ' || (at(x-5) != '+' && at(x-5) != '-') || at(x-11) != ' ' {
			return env, false
		}
		ti = -11
	}

	// hh:mm or hh:mm:ss
	if at(x+ti-3) != ':' {
		return env, false
	}
	if at(x+ti-6) == ':' {
		ti -= 9
	} else {
		ti -= 6
	}
	if at(x+ti) != ' ' {
		return env, false
	}
	// www mmm dd
	if at(x+ti-3) != ' ' || at(x+ti-7) != ' ' || at(x+ti-11) != ' ' {
		return env, false
	}

	env.line = line
	env.timeAt = x + ti
	if zn != 0 {
		env.zoneAt = x + zn
		env.hasZone = true
	}
	return env, true
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// zoneOffsets maps alphabetic zone names to minutes east of UTC.
var zoneOffsets = map[string]int{
	"UT": 0, "UTC": 0, "GMT": 0, "Z": 0, "WET": 0,
	"BST": 60, "CET": 60, "MET": 60, "MEZ": 60, "CEST": 120, "MEST": 120, "EET": 120,
	"MSK": 180, "IST": 330, "HKT": 480, "JST": 540, "KST": 540,
	"AEST": 600, "NZST": 720,
	"AST": -240, "ADT": -180, "EST": -300, "EDT": -240,
	"CST": -360, "CDT": -300, "MST": -420, "MDT": -360,
	"PST": -480, "PDT": -420, "YST": -540, "YDT": -480,
	"HST": -600, "HDT": -540, "BST11": -660,
}

// date assembles the internal date. loc is used when the line has no zone.
func (e envelope) date(loc *time.Location) (time.Time, bool) {
	l, t := e.line, e.timeAt
	field := func(from, to int) string {
		if from < 0 || to > len(l) || from > to {
			return ""
		}
		return string(l[from:to])
	}

	day, err1 := strconv.Atoi(strings.TrimSpace(field(t-2, t)))
	month, ok := monthNames[strings.ToLower(field(t-6, t-3))]
	hour, err2 := strconv.Atoi(field(t+1, t+3))
	minute, err3 := strconv.Atoi(field(t+4, t+6))
	if err1 != nil || err2 != nil || err3 != nil || !ok {
		return time.Time{}, false
	}
	second := 0
	p := t + 6
	if p < len(l) && l[p] == ':' {
		s, err := strconv.Atoi(field(p+1, p+3))
		if err != nil {
			return time.Time{}, false
		}
		second = s
		p += 3
	}
	if e.hasZone && e.zoneAt == p {
		if c := l[p+1]; c == '+' || c == '-' {
			p += 6
		} else {
			p += 4
		}
	}
	year, err := strconv.Atoi(field(p+1, p+5))
	if err != nil {
		return time.Time{}, false
	}

	if e.hasZone {
		z := e.zoneAt + 1
		if c := l[z]; c == '+' || c == '-' {
			hh, err1 := strconv.Atoi(field(z+1, z+3))
			mm, err2 := strconv.Atoi(field(z+3, z+5))
			if err1 != nil || err2 != nil || mm > 59 {
				return time.Time{}, false
			}
			offset := hh*3600 + mm*60
			if c == '-' {
				offset = -offset
			}
			loc = time.FixedZone(field(z, z+5), offset)
		} else {
			name := strings.ToUpper(field(z, z+3))
			loc = time.FixedZone(name, zoneOffsets[name]*60)
		}
	}
	if day < 1 || day > 31 || hour > 23 || minute > 59 || second > 60 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, hour, minute, second, 0, loc), true
}

// envelopeLine renders the envelope written for appended messages.
func envelopeLine(user, host string, date time.Time) string {
	return "From " + user + "@" + host + " " + date.Format("Mon Jan _2 15:04:05 2006 -0700") + "\n"
}
