package server

import (
	"io"
	"strconv"
)

// Replies that recur on every connection are allocated once.
var (
	respOK   = []byte("+OK\r\n")
	respPong = []byte("+PONG\r\n")
	respZero = []byte(":0\r\n")
	respOne  = []byte(":1\r\n")
	respNil  = []byte("$-1\r\n")
)

func writeSimpleString(w io.Writer, s string) error {
	switch s {
	case "OK":
		_, err := w.Write(respOK)
		return err
	case "PONG":
		_, err := w.Write(respPong)
		return err
	}
	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, '+')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func writeError(w io.Writer, msg string) error {
	buf := make([]byte, 0, len(msg)+3)
	buf = append(buf, '-')
	buf = append(buf, msg...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func writeInteger(w io.Writer, n int64) error {
	switch n {
	case 0:
		_, err := w.Write(respZero)
		return err
	case 1:
		_, err := w.Write(respOne)
		return err
	}
	buf := make([]byte, 0, 24)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, n, 10)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func writeNil(w io.Writer) error {
	_, err := w.Write(respNil)
	return err
}

func appendBulk(buf, data []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(data)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, data...)
	return append(buf, '\r', '\n')
}

// writeBulk writes data as a bulk string. Sketch images go out this way
// without a string conversion.
func writeBulk(w io.Writer, data []byte) error {
	_, err := w.Write(appendBulk(make([]byte, 0, len(data)+16), data))
	return err
}

func writeBulkString(w io.Writer, s string) error {
	return writeBulk(w, []byte(s))
}

// writeBulkArray writes an array of bulk strings in a single Write.
func writeBulkArray(w io.Writer, items []string) error {
	size := 16
	for _, it := range items {
		size += len(it) + 16
	}
	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(items)), 10)
	buf = append(buf, '\r', '\n')
	for _, it := range items {
		buf = appendBulk(buf, []byte(it))
	}
	_, err := w.Write(buf)
	return err
}
