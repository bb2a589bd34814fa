package mmdf

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// keywordPad is the width the status block is padded to after the
	// X-Keywords line, so a short keyword can be added without moving
	// following messages.
	keywordPad = 50
	// basePad is the padding width when the block carries X-IMAPbase.
	basePad = 80
)

// uidBase is the mailbox-wide UID state stored in the first record.
type uidBase struct {
	validity uint32
	last     uint32
}

// statusBlock is the input of the pseudo-header renderer.
type statusBlock struct {
	flags    Flags
	keywords uint32
	uid      uint32
	withUID  bool
	base     *uidBase // renders X-IMAPbase when set
}

// appendStatus renders the pseudo-header of a message, including the blank
// line that ends the header. The output depends only on its inputs.
func appendStatus(dst []byte, sb statusBlock, table *keywordTable) []byte {
	start := len(dst)
	pad := keywordPad
	if sb.base != nil {
		dst = append(dst, "X-IMAPbase: "...)
		dst = strconv.AppendUint(dst, uint64(sb.base.validity), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(sb.base.last), 10)
		for _, kw := range table.names() {
			dst = append(dst, ' ')
			dst = append(dst, kw...)
		}
		dst = append(dst, '\n')
		pad = basePad
	}

	dst = append(dst, "Status: "...)
	if sb.flags&FlagSeen != 0 {
		dst = append(dst, 'R')
	}
	dst = append(dst, "O\nX-Status: "...)
	if sb.flags&FlagDeleted != 0 {
		dst = append(dst, 'D')
	}
	if sb.flags&FlagFlagged != 0 {
		dst = append(dst, 'F')
	}
	if sb.flags&FlagAnswered != 0 {
		dst = append(dst, 'A')
	}
	if sb.flags&FlagDraft != 0 {
		dst = append(dst, 'T')
	}
	dst = append(dst, "\nX-Keywords:"...)
	for _, kw := range table.keywordNames(sb.keywords) {
		dst = append(dst, ' ')
		dst = append(dst, kw...)
	}
	for n := len(dst) - start; n < pad; n++ {
		dst = append(dst, ' ')
	}
	dst = append(dst, '\n')
	if sb.withUID {
		dst = append(dst, "X-UID: "...)
		dst = strconv.AppendUint(dst, uint64(sb.uid), 10)
		dst = append(dst, '\n')
	}
	return append(dst, '\n')
}

const (
	placeholderFrom    = "MAILER-DAEMON"
	placeholderName    = "Mail System Internal Data"
	placeholderSubject = "DON'T DELETE THIS MESSAGE -- FOLDER INTERNAL DATA"
	placeholderText    = "This text is part of the internal format of your mail folder, and is not\n" +
		"a real message.  It is created automatically by the mail system software.\n" +
		"If deleted, important folder data will be lost, and it will be re-created\n" +
		"with the data reset to initial values."
)

// renderPlaceholder renders the hidden first record that carries the UID
// base and keyword table of a mailbox, sentinels included.
func renderPlaceholder(now time.Time, host string, base uidBase, table *keywordTable) []byte {
	b := make([]byte, 0, 640)
	b = append(b, sentinel...)
	b = append(b, "From "+placeholderFrom+" "+now.Format("Mon Jan _2 15:04:05 2006")+"\n"...)
	b = append(b, "Date: "+now.Format("Mon, 2 Jan 2006 15:04:05 -0700 (MST)")+"\n"...)
	b = append(b, "From: "+placeholderName+" <"+placeholderFrom+"@"+host+">\n"...)
	b = append(b, "Subject: "+placeholderSubject+"\n"...)
	b = append(b, "Message-ID: <"+strconv.FormatInt(now.Unix(), 10)+"@"+host+">\n"...)
	b = append(b, fmt.Sprintf("X-IMAP: %010d %010d", base.validity, base.last)...)
	for _, kw := range table.names() {
		b = append(b, ' ')
		b = append(b, kw...)
	}
	b = append(b, "\nStatus: RO\n\n"+placeholderText+"\n"...)
	return append(b, sentinel...)
}
