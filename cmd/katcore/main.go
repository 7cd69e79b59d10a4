// Command katcore manages the offline store of a KAT spectroscopy station:
// test sessions, acquisitions, substance identification, replication to the
// collection server and archive export.
package main

import (
	"context"
	"os"
)

// version is set via ldflags during build
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
