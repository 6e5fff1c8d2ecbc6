package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc64"
	"io"

	"github.com/pierrec/lz4/v4"
)

// countReader tracks the byte offset so errors and reports can name the
// exact position in the file.
type countReader struct {
	r     *bufio.Reader
	count int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

func (cr *countReader) ReadByte() (byte, error) {
	b, err := cr.r.ReadByte()
	if err == nil {
		cr.count++
	}
	return b, err
}

// Entry is one key as found in a snapshot stream.
type Entry struct {
	// Offset is where the entry's key length starts.
	Offset int64
	Shard  int
	Key    string

	// StoredLen is the value length on disk, RawLen after decompression.
	StoredLen  int
	RawLen     int
	Compressed bool

	Value []byte
}

// decoder walks an HLS1 stream once, hashing as it goes.
type decoder struct {
	cr     *countReader
	hasher hash.Hash64
	flags  byte

	// remaining entries in the current shard block
	remaining uint32
	shard     int
	lenBuf    [4]byte
}

func newDecoder(r io.Reader) (*decoder, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := &decoder{
		cr:     &countReader{r: br},
		hasher: crc64.New(crcTable),
	}

	header := make([]byte, len(Magic)+1)
	if _, err := io.ReadFull(d.cr, header); err != nil {
		return nil, d.wrap("read header", err)
	}
	if string(header[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, header[:len(Magic)])
	}
	d.flags = header[len(Magic)]
	if d.flags&^flagLZ4 != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#02x", ErrCorrupt, d.flags)
	}
	d.hasher.Write(header)
	return d, nil
}

func (d *decoder) compression() Compression {
	if d.flags&flagLZ4 != 0 {
		return CompressionLZ4
	}
	return CompressionNone
}

func (d *decoder) wrap(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: offset %d: %s: truncated", ErrCorrupt, d.cr.count, what)
	}
	return fmt.Errorf("offset %d: %s: %w", d.cr.count, what, err)
}

func (d *decoder) readByte(what string) (byte, error) {
	b, err := d.cr.ReadByte()
	if err != nil {
		return 0, d.wrap(what, err)
	}
	d.hasher.Write([]byte{b})
	return b, nil
}

func (d *decoder) readLen(what string) (uint32, error) {
	if _, err := io.ReadFull(d.cr, d.lenBuf[:]); err != nil {
		return 0, d.wrap(what, err)
	}
	d.hasher.Write(d.lenBuf[:])
	return binary.LittleEndian.Uint32(d.lenBuf[:]), nil
}

func (d *decoder) readField(what string) ([]byte, error) {
	n, err := d.readLen(what + " length")
	if err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("%w: offset %d: %s length %d", ErrCorrupt, d.cr.count, what, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.cr, buf); err != nil {
		return nil, d.wrap(what, err)
	}
	d.hasher.Write(buf)
	return buf, nil
}

// next returns the next entry, or nil at the EOF marker.
func (d *decoder) next() (*Entry, error) {
	for d.remaining == 0 {
		op, err := d.readByte("opcode")
		if err != nil {
			return nil, err
		}
		if op == opCodeEOF {
			return nil, nil
		}
		if op != opCodeShardData {
			return nil, fmt.Errorf("%w: offset %d: unexpected opcode %#02x", ErrCorrupt, d.cr.count-1, op)
		}
		id, err := d.readByte("shard id")
		if err != nil {
			return nil, err
		}
		d.shard = int(id)
		if d.remaining, err = d.readLen("key count"); err != nil {
			return nil, err
		}
	}

	e := &Entry{Offset: d.cr.count, Shard: d.shard}
	key, err := d.readField("key")
	if err != nil {
		return nil, err
	}
	e.Key = string(key)
	if shardIndex(e.Key) != d.shard {
		return nil, fmt.Errorf("%w: offset %d: key %q filed under shard %d", ErrCorrupt, e.Offset, e.Key, d.shard)
	}

	var rawLen uint32
	if d.flags&flagLZ4 != 0 {
		if rawLen, err = d.readLen("raw length"); err != nil {
			return nil, err
		}
		if rawLen > maxFieldLen {
			return nil, fmt.Errorf("%w: offset %d: raw length %d", ErrCorrupt, d.cr.count, rawLen)
		}
	}

	stored, err := d.readField("value")
	if err != nil {
		return nil, err
	}
	e.StoredLen = len(stored)
	e.Value = stored

	if rawLen > 0 {
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, raw)
		if err != nil || n != int(rawLen) {
			return nil, fmt.Errorf("%w: offset %d: key %q does not decompress", ErrCorrupt, e.Offset, e.Key)
		}
		e.Value = raw
		e.Compressed = true
	}
	e.RawLen = len(e.Value)

	d.remaining--
	return e, nil
}

// finish reads the checksum after the EOF marker and compares it.
func (d *decoder) finish() (uint64, error) {
	want := d.hasher.Sum64()
	var buf [8]byte
	if _, err := io.ReadFull(d.cr, buf[:]); err != nil {
		return 0, d.wrap("checksum", err)
	}
	got := binary.LittleEndian.Uint64(buf[:])
	if got != want {
		return got, fmt.Errorf("%w: file %016x, calculated %016x", ErrChecksumMismatch, got, want)
	}
	return got, nil
}

// Report is what Verify found in a snapshot stream.
type Report struct {
	Compression Compression
	Entries     []Entry
	Shards      int
	Checksum    uint64

	// Size is the number of bytes the snapshot occupies, checksum included.
	Size int64

	// Trailing reports bytes after the checksum.
	Trailing bool
}

// Verify streams a snapshot without building a store. It returns what it
// read up to the first problem along with the error, so a caller can show
// how far a damaged file is readable.
func Verify(r io.Reader) (*Report, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	dec, err := newDecoder(br)
	if err != nil {
		return &Report{}, err
	}

	rep := &Report{Compression: dec.compression()}
	lastShard := -1
	for {
		e, err := dec.next()
		if err != nil {
			rep.Size = dec.cr.count
			return rep, err
		}
		if e == nil {
			break
		}
		if e.Shard != lastShard {
			rep.Shards++
			lastShard = e.Shard
		}
		rep.Entries = append(rep.Entries, *e)
	}

	sum, err := dec.finish()
	rep.Checksum = sum
	rep.Size = dec.cr.count
	if err != nil {
		return rep, err
	}

	if _, err := br.Peek(1); err == nil {
		rep.Trailing = true
	}
	return rep, nil
}
