// Command codesearchd is a thin cobra CLI exercising the codesearch engine
// end to end: indexing, searching, memory management, backup, and
// diagnostics. It is a harness over the engine, not a protocol server.
package main

import (
	"os"

	"github.com/anortham/codesearch-engine/cmd/codesearchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
