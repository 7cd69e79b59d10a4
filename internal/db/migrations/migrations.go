// Package migrations embeds the versioned SQL schema steps for the local store.
package migrations

import "embed"

// Files holds the NNNNNN_name.{up,down}.sql pairs applied by golang-migrate.
//
//go:embed *.sql
var Files embed.FS
