package server

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"hll.lopezb.com/internal/pds/hyperloglog"
)

const (
	errNoSuchKey = "ERR no such key"
	errBusyKey   = "BUSYKEY Target key name already exists."
)

func corruptReply(key string, err error) string {
	return fmt.Sprintf("ERR sketch %q does not decode: %v", key, err)
}

func (s *Server) encode(sk *hyperloglog.Sketch) []byte {
	if s.cfg.Compact {
		return sk.ToCompactSlice()
	}
	return sk.ToUpdatableSlice()
}

// view decodes the sketch under key. A missing key gives a nil sketch and
// no error.
func (s *Server) view(key string) (*hyperloglog.Sketch, error) {
	var sk *hyperloglog.Sketch
	err := s.store.View(key, func(data []byte) error {
		if data == nil {
			return nil
		}
		var err error
		sk, err = hyperloglog.DeserializeSlice(data)
		return err
	})
	return sk, err
}

// handleHLLAdd handles HLL.ADD key [item ...]. It replies 1 if the key was
// created or any item changed the sketch, 0 otherwise.
func (s *Server) handleHLLAdd(w io.Writer, args []string) {
	//
	// DESIGN
	// ------
	//
	// The decode, the updates and the encode all run inside Mutate, under
	// the key's shard lock, so concurrent adds to one key cannot lose each
	// other's items. The image is only re-encoded and stored when something
	// changed. The sketch reports each change itself. The estimate is not a
	// usable signal: an out-of-order sketch reports the composite estimate,
	// which can stay put while a slot rises.
	//
	if len(args) < 1 {
		wrongArgs(w, "HLL.ADD")
		return
	}
	key, items := args[0], args[1:]

	var changed bool
	var failure string
	s.store.Mutate(key, func(data []byte) ([]byte, bool) {
		var sk *hyperloglog.Sketch
		var err error
		created := data == nil
		if created {
			sk, err = hyperloglog.NewWithType(s.cfg.LgK, s.cfg.TargetType)
			if err != nil {
				failure = "ERR " + err.Error()
				return nil, false
			}
		} else if sk, err = hyperloglog.DeserializeSlice(data); err != nil {
			failure = corruptReply(key, err)
			return nil, false
		}

		changed = created
		for _, it := range items {
			if sk.UpdateString(it) {
				changed = true
			}
		}
		if !changed {
			return nil, false
		}
		return s.encode(sk), true
	})

	if failure != "" {
		_ = writeError(w, failure)
		return
	}
	s.metrics.items.Add(uint64(len(items)))
	if !changed {
		_ = writeInteger(w, 0)
		return
	}
	s.dirty.Store(true)
	_ = writeInteger(w, 1)
}

// handleHLLCount handles HLL.COUNT key, replying with the rounded estimate.
// A missing key counts 0.
func (s *Server) handleHLLCount(w io.Writer, args []string) {
	if len(args) != 1 {
		if len(args) > 1 {
			_ = writeError(w, "ERR HLL.COUNT takes a single key, unions are not supported")
			return
		}
		wrongArgs(w, "HLL.COUNT")
		return
	}
	sk, err := s.view(args[0])
	if err != nil {
		_ = writeError(w, corruptReply(args[0], err))
		return
	}
	if sk == nil {
		_ = writeInteger(w, 0)
		return
	}
	_ = writeInteger(w, int64(math.Round(sk.Estimate())))
}

// handleHLLEstimate handles HLL.ESTIMATE key [numStdDev], replying with
// [estimate, lower bound, upper bound] as bulk strings.
func (s *Server) handleHLLEstimate(w io.Writer, args []string) {
	if len(args) < 1 || len(args) > 2 {
		wrongArgs(w, "HLL.ESTIMATE")
		return
	}
	numStdDev := s.cfg.NumStdDev
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err == nil {
			err = hyperloglog.CheckNumStdDev(n)
		}
		if err != nil {
			_ = writeError(w, "ERR numStdDev must be 1, 2 or 3")
			return
		}
		numStdDev = n
	}

	sk, err := s.view(args[0])
	if err != nil {
		_ = writeError(w, corruptReply(args[0], err))
		return
	}
	if sk == nil {
		_ = writeNil(w)
		return
	}
	lb, _ := sk.LowerBound(numStdDev)
	ub, _ := sk.UpperBound(numStdDev)
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	_ = writeBulkArray(w, []string{format(sk.Estimate()), format(lb), format(ub)})
}

// handleHLLInfo handles HLL.INFO key, replying with the summary dump.
func (s *Server) handleHLLInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		wrongArgs(w, "HLL.INFO")
		return
	}
	sk, err := s.view(args[0])
	if err != nil {
		_ = writeError(w, corruptReply(args[0], err))
		return
	}
	if sk == nil {
		_ = writeNil(w)
		return
	}
	var b strings.Builder
	if err := sk.Dump(&b, hyperloglog.DefaultDumpOptions); err != nil {
		_ = writeError(w, "ERR "+err.Error())
		return
	}
	_ = writeBulkString(w, b.String())
}

// handleHLLConvert handles HLL.CONVERT key type.
func (s *Server) handleHLLConvert(w io.Writer, args []string) {
	if len(args) != 2 {
		wrongArgs(w, "HLL.CONVERT")
		return
	}
	key := args[0]
	tgt, err := hyperloglog.ParseTargetType(args[1])
	if err != nil {
		_ = writeError(w, "ERR target type must be HLL_4, HLL_6 or HLL_8")
		return
	}

	failure := errNoSuchKey
	s.store.Mutate(key, func(data []byte) ([]byte, bool) {
		if data == nil {
			return nil, false
		}
		sk, err := hyperloglog.DeserializeSlice(data)
		if err != nil {
			failure = corruptReply(key, err)
			return nil, false
		}
		dup, err := sk.CopyAs(tgt)
		if err != nil {
			failure = "ERR " + err.Error()
			return nil, false
		}
		failure = ""
		return s.encode(dup), true
	})
	if failure != "" {
		_ = writeError(w, failure)
		return
	}
	s.dirty.Store(true)
	_ = writeSimpleString(w, "OK")
}

// handleHLLDump handles HLL.DUMP key, replying with the compact image.
func (s *Server) handleHLLDump(w io.Writer, args []string) {
	if len(args) != 1 {
		wrongArgs(w, "HLL.DUMP")
		return
	}
	sk, err := s.view(args[0])
	if err != nil {
		_ = writeError(w, corruptReply(args[0], err))
		return
	}
	if sk == nil {
		_ = writeNil(w)
		return
	}
	_ = writeBulk(w, sk.ToCompactSlice())
}

// handleHLLRestore handles HLL.RESTORE key image [REPLACE]. The image is
// fully validated before anything is stored.
func (s *Server) handleHLLRestore(w io.Writer, args []string) {
	if len(args) < 2 || len(args) > 3 {
		wrongArgs(w, "HLL.RESTORE")
		return
	}
	replace := false
	if len(args) == 3 {
		if !strings.EqualFold(args[2], "REPLACE") {
			_ = writeError(w, "ERR syntax error")
			return
		}
		replace = true
	}
	key := args[0]
	sk, err := hyperloglog.DeserializeSlice([]byte(args[1]))
	if err != nil {
		_ = writeError(w, "ERR invalid sketch image: "+err.Error())
		return
	}

	busy := false
	s.store.Mutate(key, func(data []byte) ([]byte, bool) {
		if data != nil && !replace {
			busy = true
			return nil, false
		}
		return s.encode(sk), true
	})
	if busy {
		_ = writeError(w, errBusyKey)
		return
	}
	s.dirty.Store(true)
	_ = writeSimpleString(w, "OK")
}
