//go:build !windows

package main

import (
	"os"
	"syscall"
)

func foregroundSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
