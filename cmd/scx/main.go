package main

import (
	"fmt"
	"os"

	"streamcache/internal/scx"
)

func main() {
	if err := scx.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
