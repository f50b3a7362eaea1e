// Command branchhost serves the demo branches behind one HTTP front door.
//
// Usage:
//
//	branchhost serve  [--config host.yaml] [--env-file .env]
//	branchhost routes [--config host.yaml]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
