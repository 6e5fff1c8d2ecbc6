package server

import (
	"fmt"
	"io"
	"strings"
)

// commands is the full command table.
func (s *Server) commands() map[string]handler {
	h := map[string]handler{
		"PING":   s.handlePing,
		"INFO":   s.handleInfo,
		"DBSIZE": s.handleDBSize,
		"DEL":    s.handleDel,
		"MEMORY": s.handleMemory,
		"SAVE":   s.handleSave,
		"BGSAVE": s.handleBGSave,

		"HLL.ADD":      s.handleHLLAdd,
		"HLL.COUNT":    s.handleHLLCount,
		"HLL.ESTIMATE": s.handleHLLEstimate,
		"HLL.INFO":     s.handleHLLInfo,
		"HLL.CONVERT":  s.handleHLLConvert,
		"HLL.DUMP":     s.handleHLLDump,
		"HLL.RESTORE":  s.handleHLLRestore,
	}
	h["PFADD"] = h["HLL.ADD"]
	h["PFCOUNT"] = h["HLL.COUNT"]
	return h
}

func wrongArgs(w io.Writer, cmd string) {
	_ = writeError(w, "ERR wrong number of arguments for '"+strings.ToLower(cmd)+"' command")
}

func (s *Server) handlePing(w io.Writer, args []string) {
	switch len(args) {
	case 0:
		_ = writeSimpleString(w, "PONG")
	case 1:
		_ = writeBulkString(w, args[0])
	default:
		wrongArgs(w, "PING")
	}
}

// handleInfo reports counters in the Redis INFO layout: "# Section" headers
// followed by key:value lines.
func (s *Server) handleInfo(w io.Writer, args []string) {
	if len(args) != 0 {
		wrongArgs(w, "INFO")
		return
	}
	m := s.metrics
	var b strings.Builder
	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", m.connections.Load())
	fmt.Fprintf(&b, "connections_active:%d\r\n", len(s.connLimiter))
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", m.commands.Load())
	b.WriteString("\r\n# Sketches\r\n")
	fmt.Fprintf(&b, "sketches:%d\r\n", s.store.Len())
	fmt.Fprintf(&b, "items_added_total:%d\r\n", m.items.Load())
	fmt.Fprintf(&b, "lg_k:%d\r\n", s.cfg.LgK)
	fmt.Fprintf(&b, "target_type:%s\r\n", s.cfg.TargetType)
	b.WriteString("\r\n# Persistence\r\n")
	fmt.Fprintf(&b, "persistence:%t\r\n", s.cfg.Snapshot != nil)
	fmt.Fprintf(&b, "changes_since_save:%t\r\n", s.dirty.Load())
	fmt.Fprintf(&b, "snapshots_total:%d\r\n", m.snapshots.Load())
	fmt.Fprintf(&b, "snapshot_errors_total:%d\r\n", m.snapshotErrors.Load())
	_ = writeBulkString(w, b.String())
}

func (s *Server) handleDBSize(w io.Writer, args []string) {
	if len(args) != 0 {
		wrongArgs(w, "DBSIZE")
		return
	}
	_ = writeInteger(w, int64(s.store.Len()))
}

// handleDel removes keys and replies with how many existed.
func (s *Server) handleDel(w io.Writer, args []string) {
	if len(args) == 0 {
		wrongArgs(w, "DEL")
		return
	}
	n := 0
	for _, key := range args {
		if s.store.Delete(key) {
			n++
		}
	}
	if n > 0 {
		s.dirty.Store(true)
	}
	_ = writeInteger(w, int64(n))
}

// handleMemory supports MEMORY USAGE key, replying with the stored image
// size plus a fixed per-entry overhead for the key string, slice header and
// map bucket.
func (s *Server) handleMemory(w io.Writer, args []string) {
	if len(args) == 0 {
		wrongArgs(w, "MEMORY")
		return
	}
	if sub := strings.ToUpper(args[0]); sub != "USAGE" {
		_ = writeError(w, fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key>", sub))
		return
	}
	if len(args) != 2 {
		wrongArgs(w, "MEMORY USAGE")
		return
	}

	const entryOverhead = 72
	key := args[1]
	size := -1
	_ = s.store.View(key, func(data []byte) error {
		if data != nil {
			size = len(key) + len(data) + entryOverhead
		}
		return nil
	})
	if size < 0 {
		_ = writeNil(w)
		return
	}
	_ = writeInteger(w, int64(size))
}

func (s *Server) handleSave(w io.Writer, args []string) {
	if len(args) != 0 {
		wrongArgs(w, "SAVE")
		return
	}
	if err := s.save(); err != nil {
		_ = writeError(w, "ERR "+err.Error())
		return
	}
	_ = writeSimpleString(w, "OK")
}

// handleBGSave starts a snapshot and replies at once. The outcome is only
// logged.
func (s *Server) handleBGSave(w io.Writer, args []string) {
	if len(args) != 0 {
		wrongArgs(w, "BGSAVE")
		return
	}
	if s.cfg.Snapshot == nil {
		_ = writeError(w, "ERR persistence is disabled")
		return
	}
	if s.saving.Load() {
		_ = writeError(w, "ERR Background save already in progress")
		return
	}
	s.bgSaves.Add(1)
	go func() {
		defer s.bgSaves.Done()
		if err := s.save(); err != nil {
			s.logger.Error("background save failed", "error", err)
		}
	}()
	_ = writeSimpleString(w, "Background saving started")
}
