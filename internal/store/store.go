// Package store keeps named sketch images in a sharded in-memory map and
// persists them to a single snapshot file.
//
// The store knows nothing about sketches. Values are opaque byte slices;
// callers decode them, mutate the decoded sketch, and write the new image
// back through Mutate so each read-modify-write happens under the key's
// shard lock. Sketches are single-owner values, so this lock is the only
// synchronization they get.
//
// Sharding
// ========
//
// Keys are spread over 256 shards by FNV-1a. Each shard has its own RWMutex,
// so updates to different keys rarely contend.
//
// The Snapshot Format (HLS1)
// ==========================
//
//	+--------+-------+---------+---------+     +-----+----------+
//	| Magic  | Flags | Shard 0 | Shard 1 | ... | EOF | Checksum |
//	+--------+-------+---------+---------+     +-----+----------+
//	 4 bytes  1 byte  variable  variable        1 B    8 bytes
//
// Magic is "HLS1". Flags bit 0 means values are LZ4 block-compressed.
//
// Each non-empty shard is written as a block:
//
//	+--------+----------+-------+------+-----+--------+------+-------+-----+
//	| OpCode | Shard ID | Count | KLen | Key | RawLen | VLen | Value | ... |
//	+--------+----------+-------+------+-----+--------+------+-------+-----+
//	  1 byte   1 byte    4 bytes 4 B    var   4 B      4 B    var
//
// RawLen is only present when the LZ4 flag is set. It is the decompressed
// length of the value, or 0 when the value did not compress and is stored
// as is. All integers are little-endian.
//
// The checksum is CRC-64 (ISO polynomial) over every preceding byte.
package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// Magic identifies a snapshot file.
const Magic = "HLS1"

const (
	shardCount = 256

	opCodeShardData = 0xFE
	opCodeEOF       = 0xFF

	flagLZ4 = 1 << 0

	// maxFieldLen caps key and value lengths read from a snapshot so a
	// corrupt length cannot trigger a huge allocation.
	maxFieldLen = 64 << 20
)

var (
	// ErrBadMagic is returned when a file does not start with Magic.
	ErrBadMagic = errors.New("store: invalid snapshot header")

	// ErrChecksumMismatch is returned when the trailing CRC does not match.
	ErrChecksumMismatch = errors.New("store: snapshot checksum mismatch")

	// ErrCorrupt wraps structural problems in the snapshot stream.
	ErrCorrupt = errors.New("store: snapshot stream corrupt")

	// ErrNotFound is returned by callers that require a key to exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrInvalidCompression is returned by ParseCompression.
	ErrInvalidCompression = errors.New("store: invalid compression")
)

var crcTable = crc64.MakeTable(crc64.ISO)

// Compression selects how values are written to a snapshot.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression accepts "none" and "lz4", case-insensitively.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCompression, s)
}

// Options controls snapshot writing.
type Options struct {
	Compression Compression
}

type shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// Store is a sharded map of key to sketch image.
type Store struct {
	shards [shardCount]*shard
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	for i := range shardCount {
		s.shards[i] = &shard{data: make(map[string][]byte)}
	}
	return s
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[shardIndex(key)]
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = value
}

// Get returns the value for key.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.data[key]
	return v, ok
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.data[key]
	delete(sh.data, key)
	return ok
}

// View calls fn with the value under the shard read lock. fn receives nil
// when the key is missing and must not retain the slice.
func (s *Store) View(key string, fn func(data []byte) error) error {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return fn(sh.data[key])
}

// Mutate runs a read-modify-write on key under the shard write lock. fn
// receives the current value (nil if missing) and returns the new value and
// whether to store it.
func (s *Store) Mutate(key string, fn func(current []byte) ([]byte, bool)) {
	//
	// DESIGN
	// ------
	//
	// Decoding a sketch, applying updates and encoding it again all happen
	// inside fn while the lock is held. Two writers on the same key are
	// serialized, so neither loses the other's updates. Returning false
	// lets fn abort, for example when the stored image does not decode.
	//
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	next, changed := fn(sh.data[key])
	if changed {
		sh.data[key] = next
	}
}

// Keys returns every key in sorted order.
func (s *Store) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.data {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of keys.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.data)
		sh.mu.RUnlock()
	}
	return n
}

// Save writes the whole store to w in the HLS1 format.
func (s *Store) Save(w io.Writer, opts Options) error {
	//
	// DESIGN
	// ------
	//
	// Each shard is copied into a RAM buffer under its read lock and the lock
	// is dropped before the buffer is written out, so a slow writer blocks
	// nobody. Every byte goes through a MultiWriter into the CRC as it is
	// written; the checksum itself is written to w directly so it is not
	// hashed.
	//
	hasher := crc64.New(crcTable)
	bw := bufio.NewWriter(io.MultiWriter(w, hasher))

	var flags byte
	if opts.Compression == CompressionLZ4 {
		flags |= flagLZ4
	}
	if _, err := bw.WriteString(Magic); err != nil {
		return err
	}
	if err := bw.WriteByte(flags); err != nil {
		return err
	}

	shardBuf := new(bytes.Buffer)
	lenBuf := make([]byte, 4)
	writeLen := func(n int) {
		binary.LittleEndian.PutUint32(lenBuf, uint32(n))
		shardBuf.Write(lenBuf)
	}

	for i, sh := range s.shards {
		sh.mu.RLock()
		if len(sh.data) == 0 {
			sh.mu.RUnlock()
			continue
		}

		shardBuf.Reset()
		shardBuf.WriteByte(opCodeShardData)
		shardBuf.WriteByte(byte(i))
		writeLen(len(sh.data))

		for k, v := range sh.data {
			writeLen(len(k))
			shardBuf.WriteString(k)

			if flags&flagLZ4 != 0 {
				payload, rawLen := compress(v)
				writeLen(rawLen)
				writeLen(len(payload))
				shardBuf.Write(payload)
			} else {
				writeLen(len(v))
				shardBuf.Write(v)
			}
		}
		sh.mu.RUnlock()

		if _, err := shardBuf.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(opCodeEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, hasher.Sum64())
}

// compress returns the LZ4 block for v and its raw length, or v itself and
// 0 when it does not compress.
func compress(v []byte) ([]byte, int) {
	dst := make([]byte, lz4.CompressBlockBound(len(v)))
	n, err := lz4.CompressBlock(v, dst, nil)
	if err != nil || n == 0 || n >= len(v) {
		return v, 0
	}
	return dst[:n], len(v)
}

// Load reads an HLS1 snapshot from r into the store, replacing keys that
// already exist. A *bufio.Reader is left positioned right after the
// checksum. Nothing is inserted unless the whole snapshot verifies.
func (s *Store) Load(r io.Reader) error {
	dec, err := newDecoder(r)
	if err != nil {
		return err
	}

	type pending struct {
		shard int
		key   string
		value []byte
	}
	var entries []pending
	for {
		e, err := dec.next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		entries = append(entries, pending{e.Shard, e.Key, e.Value})
	}
	if _, err := dec.finish(); err != nil {
		return err
	}

	// The shard ID is trusted after the checksum passed, so keys go straight
	// to their shard without rehashing.
	for _, e := range entries {
		sh := s.shards[e.shard]
		sh.mu.Lock()
		sh.data[e.key] = e.value
		sh.mu.Unlock()
	}
	return nil
}

// LoadFile opens path and loads it into a new store. A missing file gives an
// empty store.
func LoadFile(path string) (*Store, error) {
	s := New()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := s.Load(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes the store to path. The snapshot goes to a temporary file
// in the same directory first and is renamed over path, so a crash never
// leaves a half-written snapshot behind.
func (s *Store) SaveFile(path string, opts Options) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := s.Save(tmp, opts); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
