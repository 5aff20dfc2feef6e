// Command harvester incrementally downloads flight-status pages for every
// query listed in the matrix files and keeps per-query progress in them.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
