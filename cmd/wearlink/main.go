// Command wearlink inspects wearable device families, encodes and decodes
// frames, and pings devices over serial or TCP links.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
