//go:build !linux

package main

import (
	"fmt"
	"os"
)

func runDaemon([]string) int {
	fmt.Fprintln(os.Stderr, "droidrelay daemon requires Linux with an X11 display")
	return 1
}
