//go:build windows

package main

import "os"

func foregroundSignals() []os.Signal {
	return nil
}
