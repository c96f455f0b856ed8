// Command apiumhubd is the session-aware reverse-proxy hub for Appium
// backends.
package main

import (
	"fmt"
	"os"

	"github.com/dgeene/parallel-appium/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
