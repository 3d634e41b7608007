package appfs

import "embed"

// FS holds the database migrations and the email templates so the binaries
// stay self-contained.
//
//go:embed migrations all:assets
var FS embed.FS
