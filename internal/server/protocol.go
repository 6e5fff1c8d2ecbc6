package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// Request limits. A client cannot make the parser allocate more than these
// before a single byte of payload arrives.
const (
	maxBulkLength = 64 << 20
	maxArrayLen   = 1 << 20
	maxLineSize   = 64 << 10
)

var (
	errInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	errLineTooLong   = errors.New("ERR protocol error: line too long")
	errBulkTooLarge  = errors.New("ERR protocol error: bulk string too large")
	errArrayTooLong  = errors.New("ERR protocol error: too many arguments")
)

// parser reads RESP requests: arrays of bulk strings as sent by client
// libraries, and space-separated inline commands as typed into redis-cli
// or netcat.
type parser struct {
	r *bufio.Reader
}

func newParser(r io.Reader) *parser {
	return &parser{r: bufio.NewReaderSize(r, 4096)}
}

// next returns the next command and its arguments. An empty array yields a
// zero-length slice, which the caller skips.
func (p *parser) next() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, errInvalidSyntax
	}
	if line[0] == '*' {
		return p.readArray(line[1:])
	}

	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, errInvalidSyntax
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return parts, nil
}

// buffered reports whether another request is already waiting, in which case
// the connection can hold its replies and flush them together.
func (p *parser) buffered() int {
	return p.r.Buffered()
}

func (p *parser) readLine() ([]byte, error) {
	line, more, err := p.r.ReadLine()
	if err != nil {
		return nil, err
	}
	if !more {
		return line, nil
	}

	// ReadLine's slice is only valid until the next read.
	var buf bytes.Buffer
	buf.Write(line)
	for more {
		line, more, err = p.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > maxLineSize {
			return nil, errLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

func (p *parser) readArray(header []byte) ([]string, error) {
	n, err := strconv.Atoi(string(bytes.TrimSpace(header)))
	if err != nil {
		return nil, errInvalidSyntax
	}
	if n <= 0 {
		return []string{}, nil
	}
	if n > maxArrayLen {
		return nil, errArrayTooLong
	}

	parts := make([]string, 0, n)
	for range n {
		s, err := p.readBulk()
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return parts, nil
}

// readBulk reads "$<len>\r\n<data>\r\n". A null bulk string ($-1) reads as
// the empty string.
func (p *parser) readBulk() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(line) == 0 || line[0] != '$' {
		return "", errInvalidSyntax
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return "", errInvalidSyntax
	}
	switch {
	case n == -1:
		return "", nil
	case n < 0:
		return "", errInvalidSyntax
	case n > maxBulkLength:
		return "", errBulkTooLarge
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return "", errInvalidSyntax
	}
	return string(buf[:n]), nil
}
