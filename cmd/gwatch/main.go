// Command gwatch watches a git working tree and maintains a live,
// hunk-level diff of every change against a chosen reference state.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
