// Command sandboxd runs one sandbox process: it accepts a single controller
// connection, then serves the Manager contract of spec.md §4.2 over it
// until the connection drops or a terminate request arrives.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
