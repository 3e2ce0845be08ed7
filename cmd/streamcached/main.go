package main

import (
	"fmt"
	"os"

	"streamcache/internal/daemon"
)

func main() {
	if err := daemon.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
