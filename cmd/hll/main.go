// hll keeps named HyperLogLog sketches in a snapshot file and answers
// approximate distinct-count queries over them.
//
// Usage Examples
// ==============
//
//	hll add visitors alice bob carol
//	hll ingest visitors access.log
//	hll estimate visitors --std-dev 3
//	hll inspect visitors --detail --format yaml
//	hll convert visitors --type HLL_4
//	hll check sketches.hls -v
//	hll serve --addr :6479 --metrics-addr :9100
//
// Configuration comes from .hll.yaml (or --config) and HLL_* environment
// variables, for example HLL_SKETCH_LG_K=14 or HLL_STORE_COMPRESSION=lz4.
//
// Exit Codes
// ==========
//
// 0: Success.
// 1: Any error, including a failed check.
package main

import (
	"fmt"
	"os"

	"hll.lopezb.com/cmd/hll/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
