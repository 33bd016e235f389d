// Command transcribe starts the embedded runtime, resolves a managed entry
// point and runs its static main with the remaining arguments.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
