package server

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserArrays(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single", "*1\r\n$4\r\nPING\r\n", []string{"PING"}},
		{"with args", "*3\r\n$7\r\nHLL.ADD\r\n$5\r\nusers\r\n$5\r\nuser1\r\n", []string{"HLL.ADD", "users", "user1"}},
		{"empty argument", "*2\r\n$4\r\nECHO\r\n$0\r\n\r\n", []string{"ECHO", ""}},
		{"null bulk", "*2\r\n$4\r\nECHO\r\n$-1\r\n", []string{"ECHO", ""}},
		{"binary payload", "*2\r\n$4\r\nECHO\r\n$4\r\n\x00\r\n\x01\r\n", []string{"ECHO", "\x00\r\n\x01"}},
		{"empty array", "*0\r\n", []string{}},
		{"inline", "HLL.COUNT  users\r\n", []string{"HLL.COUNT", "users"}},
		{"inline without CR", "PING\n", []string{"PING"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParser(strings.NewReader(tt.input))
			got, err := p.next()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParserSequence(t *testing.T) {
	input := "*1\r\n$4\r\nPING\r\nDBSIZE\r\n*2\r\n$3\r\nDEL\r\n$1\r\nk\r\n"
	p := newParser(strings.NewReader(input))

	var got [][]string
	for {
		parts, err := p.next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, parts)
	}
	assert.Equal(t, [][]string{{"PING"}, {"DBSIZE"}, {"DEL", "k"}}, got)
}

func TestParserBuffered(t *testing.T) {
	p := newParser(strings.NewReader("PING\r\nPING\r\n"))
	_, err := p.next()
	require.NoError(t, err)
	assert.Positive(t, p.buffered())
	_, err = p.next()
	require.NoError(t, err)
	assert.Zero(t, p.buffered())
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"blank line", "\r\n", errInvalidSyntax},
		{"bad array header", "*x\r\n", errInvalidSyntax},
		{"missing bulk marker", "*1\r\nPING\r\n", errInvalidSyntax},
		{"bad bulk length", "*1\r\n$x\r\n", errInvalidSyntax},
		{"negative bulk length", "*1\r\n$-2\r\n", errInvalidSyntax},
		{"bulk without terminator", "*1\r\n$4\r\nPINGXX", errInvalidSyntax},
		{"bulk too large", fmt.Sprintf("*1\r\n$%d\r\n", maxBulkLength+1), errBulkTooLarge},
		{"array too long", fmt.Sprintf("*%d\r\n", maxArrayLen+1), errArrayTooLong},
		{"line too long", strings.Repeat("a", maxLineSize+1) + "\r\n", errLineTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParser(strings.NewReader(tt.input))
			_, err := p.next()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParserTruncated(t *testing.T) {
	p := newParser(strings.NewReader("*2\r\n$4\r\nPING\r\n"))
	_, err := p.next()
	assert.ErrorIs(t, err, io.EOF)

	p = newParser(strings.NewReader("*1\r\n$10\r\nabc"))
	_, err = p.next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestResponses(t *testing.T) {
	tests := []struct {
		name  string
		write func(w io.Writer) error
		want  string
	}{
		{"ok", func(w io.Writer) error { return writeSimpleString(w, "OK") }, "+OK\r\n"},
		{"pong", func(w io.Writer) error { return writeSimpleString(w, "PONG") }, "+PONG\r\n"},
		{"simple", func(w io.Writer) error { return writeSimpleString(w, "Background saving started") }, "+Background saving started\r\n"},
		{"error", func(w io.Writer) error { return writeError(w, "ERR no such key") }, "-ERR no such key\r\n"},
		{"zero", func(w io.Writer) error { return writeInteger(w, 0) }, ":0\r\n"},
		{"one", func(w io.Writer) error { return writeInteger(w, 1) }, ":1\r\n"},
		{"integer", func(w io.Writer) error { return writeInteger(w, -4096) }, ":-4096\r\n"},
		{"nil", writeNil, "$-1\r\n"},
		{"bulk", func(w io.Writer) error { return writeBulk(w, []byte{0, 1, 2}) }, "$3\r\n\x00\x01\x02\r\n"},
		{"empty bulk", func(w io.Writer) error { return writeBulkString(w, "") }, "$0\r\n\r\n"},
		{"array", func(w io.Writer) error { return writeBulkArray(w, []string{"3.00", "", "x"}) }, "*3\r\n$4\r\n3.00\r\n$0\r\n\r\n$1\r\nx\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
