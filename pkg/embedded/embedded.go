// Package embedded provides static assets compiled into the binary so the
// server ships as a single executable.
package embedded

import (
	"embed"
	"io/fs"
)

//go:embed static
var files embed.FS

// Static returns the web client filesystem rooted at the asset directory.
func Static() (fs.FS, error) {
	return fs.Sub(files, "static")
}
