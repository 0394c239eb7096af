package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// A simple pager like more(1). Implements io.Writer. If r and w are both
// terminals, r is put in raw mode until Close and output pauses at the bottom
// of each screen. Otherwise the pager writes straight through to w.
type pager struct {
	fd         int
	w          io.Writer
	r          *bufio.Reader
	buf        bytes.Buffer
	raw        bool
	shouldPage bool
	line       int
	stopped    bool
	restore    func()
}

var _ io.WriteCloser = &pager{}

func newPager(r io.Reader, w io.Writer) *pager {
	p := &pager{
		fd:      -1,
		w:       w,
		r:       bufio.NewReader(r),
		restore: func() {},
	}

	in, ok := r.(*os.File)
	if !ok || !term.IsTerminal(int(in.Fd())) {
		return p
	}

	out, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(out.Fd())) {
		return p
	}

	state, err := term.MakeRaw(int(in.Fd()))
	if err != nil {
		return p
	}

	p.fd = int(out.Fd())
	p.raw = true
	p.shouldPage = true
	p.restore = func() { term.Restore(int(in.Fd()), state) }

	return p
}

func (p *pager) Close() error {
	p.restore()
	return nil
}

// writeLine writes line, ending it with "\r\n" since raw mode turns off
// output processing.
func (p *pager) writeLine(line []byte) error {
	if bytes.HasSuffix(line, []byte("\n")) {
		line = append(bytes.TrimSuffix(line, []byte("\n")), '\r', '\n')
	}
	_, err := p.w.Write(line)
	return err
}

func (p *pager) Write(b []byte) (n int, err error) {
	if !p.raw {
		return p.w.Write(b)
	}

	if p.stopped {
		return 0, io.EOF
	}

	height := 24
	if _, h, err := term.GetSize(p.fd); err == nil {
		height = h
	}

	return p.page(b, height)
}

func (p *pager) page(b []byte, height int) (int, error) {
	p.buf.Write(b)

	for p.buf.Len() > 0 {
		if p.shouldPage && p.line >= height-1 {
			// Leave a line for "--More--".
			if err := p.paginate(); err != nil {
				return len(b), err
			}
		}

		line, err := p.buf.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return len(b), err
		}

		if err := p.writeLine(line); err != nil {
			return len(b), err
		}
		p.line++
	}

	return len(b), nil
}

func (p *pager) paginate() error {
	more := []byte("--More--")
	clear := []byte("\r" + strings.Repeat(" ", len(more)) + "\r")

	for {
		_, err := p.w.Write(more)
		if err != nil {
			return err
		}

		b, err := p.r.ReadByte()
		if err != nil {
			return err
		}

		_, err = p.w.Write(clear)
		if err != nil {
			return err
		}

		switch b {
		case 'q', '\x03':
			p.stopped = true
			return io.EOF
		case ' ':
			p.line = 0
			return nil
		case '\r', 'j':
			p.line--
			return nil
		case 'G':
			p.shouldPage = false
			return nil
		case '\x1b': // escape sequence, read next two bytes
			var b [2]byte
			_, err := io.ReadFull(p.r, b[:])
			if err != nil {
				return err
			}
			if b[0] == '[' && b[1] == 'B' {
				// down arrow
				p.line--
				return nil
			}
		}
	}
}
