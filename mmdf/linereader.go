package mmdf

import (
	"bytes"
	"io"
)

const (
	// sentinel starts and ends every message record.
	sentinel    = "\x01\x01\x01\x01\n"
	sentinelLen = int64(len(sentinel))

	// sentinelChar is stripped from appended message text.
	sentinelChar = '\x01'

	// chunkSize is the read-in window of the line reader and the alignment
	// unit of the rewrite writer.
	chunkSize = 8192
)

var sentinelBytes = []byte(sentinel)

// isSentinel reports whether line is a sentinel line.
func isSentinel(line []byte) bool {
	return bytes.HasPrefix(line, sentinelBytes)
}

// lineReader returns the lines of a byte window of a file without holding
// the whole window in memory. Positions are relative to the window start.
type lineReader struct {
	r    io.ReaderAt
	base int64 // file offset of position 0
	size int64 // window length

	buf   []byte // chunk storage
	win   []byte // unread part of the current chunk
	pos   int64  // position of win[0]
	spill []byte // lines spanning chunks are assembled here
}

func newLineReader(r io.ReaderAt, base, size int64) *lineReader {
	return &lineReader{r: r, base: base, size: size}
}

// offset returns the position of the next unread byte.
func (lr *lineReader) offset() int64 {
	return lr.pos
}

// remaining returns the number of unread bytes.
func (lr *lineReader) remaining() int64 {
	return lr.size - lr.pos
}

// seek moves the cursor. The next read reloads the window.
func (lr *lineReader) seek(pos int64) {
	lr.pos = pos
	lr.win = nil
}

func (lr *lineReader) fill() error {
	n := lr.size - lr.pos
	if n > chunkSize {
		n = chunkSize
	}
	if n <= 0 {
		lr.win = nil
		return nil
	}
	if lr.buf == nil {
		lr.buf = make([]byte, chunkSize)
	}
	m, err := lr.r.ReadAt(lr.buf[:n], lr.base+lr.pos)
	if int64(m) < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	lr.win = lr.buf[:n]
	return nil
}

// skipSpace advances over whitespace and NUL padding.
func (lr *lineReader) skipSpace() error {
	for lr.pos < lr.size {
		if len(lr.win) == 0 {
			if err := lr.fill(); err != nil {
				return err
			}
		}
		switch lr.win[0] {
		case '\n', '\r', ' ', '\t', 0:
			lr.win = lr.win[1:]
			lr.pos++
		default:
			return nil
		}
	}
	return nil
}

// next returns the next line including its newline, or nil at the end of
// the window. The last line of the window may lack a newline. A sentinel
// glued to the end of a line is cut off and left unread, so it starts the
// next line. The returned slice is only valid until the next call.
func (lr *lineReader) next() ([]byte, error) {
	if lr.pos >= lr.size {
		return nil, nil
	}
	if len(lr.win) == 0 {
		if err := lr.fill(); err != nil {
			return nil, err
		}
	}

	var line []byte
	if i := bytes.IndexByte(lr.win, '\n'); i >= 0 {
		line = lr.win[:i+1]
		lr.win = lr.win[i+1:]
		lr.pos += int64(i + 1)
	} else {
		// Line spans the window, keep pulling chunks.
		lr.spill = append(lr.spill[:0], lr.win...)
		lr.pos += int64(len(lr.win))
		lr.win = nil
		for lr.pos < lr.size {
			if err := lr.fill(); err != nil {
				return nil, err
			}
			if i := bytes.IndexByte(lr.win, '\n'); i >= 0 {
				lr.spill = append(lr.spill, lr.win[:i+1]...)
				lr.win = lr.win[i+1:]
				lr.pos += int64(i + 1)
				break
			}
			lr.spill = append(lr.spill, lr.win...)
			lr.pos += int64(len(lr.win))
			lr.win = nil
		}
		line = lr.spill
	}

	if int64(len(line)) > sentinelLen && bytes.HasSuffix(line, sentinelBytes) {
		line = line[:int64(len(line))-sentinelLen]
		lr.seek(lr.pos - sentinelLen)
	}
	return line, nil
}
