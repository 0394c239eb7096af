package main

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPager(keys string, w io.Writer) *pager {
	return &pager{
		w:          w,
		r:          bufio.NewReader(strings.NewReader(keys)),
		raw:        true,
		shouldPage: true,
		restore:    func() {},
	}
}

func TestPagerPassthrough(t *testing.T) {
	var out bytes.Buffer
	p := newPager(strings.NewReader(""), &out)

	_, err := io.WriteString(p, "a\nb\n")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.Equal(t, "a\nb\n", out.String())
}

func TestPagerPages(t *testing.T) {
	var out bytes.Buffer
	p := rawPager(" ", &out)

	n, err := p.page([]byte("1\n2\n3\n4\n"), 3)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	clear := "\r        \r"
	assert.Equal(t, "1\r\n2\r\n--More--"+clear+"3\r\n4\r\n", out.String())
}

func TestPagerQuit(t *testing.T) {
	var out bytes.Buffer
	p := rawPager("xq", &out)

	_, err := p.page([]byte("1\n2\n3\n"), 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, p.stopped)

	_, err = p.Write([]byte("4\n"))
	assert.ErrorIs(t, err, io.EOF)
	assert.NotContains(t, out.String(), "3")
}

func TestPagerToEnd(t *testing.T) {
	var out bytes.Buffer
	p := rawPager("G", &out)

	_, err := p.page([]byte("1\n2\n3\n4\n"), 2)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out.String(), "--More--"))
	assert.True(t, strings.HasSuffix(out.String(), "2\r\n3\r\n4\r\n"))
}
