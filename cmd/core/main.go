// Package main provides the capture gallery command line.
// It ingests capture references into a gallery and prints the result as JSON.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
