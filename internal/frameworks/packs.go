// Package frameworks embeds the built-in framework packs
package frameworks

import (
	"embed"
	"io/fs"
)

//go:embed packs/*.yaml
var embedded embed.FS

// Packs returns the built-in packs rooted at their file names
func Packs() fs.FS {
	sub, err := fs.Sub(embedded, "packs")
	if err != nil {
		panic(err)
	}
	return sub
}
