// Command trackscan serves the track inspection API: position records, the
// tamping decision workflow, speed control and live event streams.
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
