package a2ui

import (
	"embed"
	"io/fs"
)

// SchemaFile is the resource name of the message schema.
const SchemaFile = "a2ui_schema.json"

// DefaultSchema is the JSON schema of a single A2UI message.
//
//go:embed schema/a2ui_schema.json
var DefaultSchema []byte

//go:embed schema/a2ui_schema.json
var assets embed.FS

// Assets returns the built-in resources, with DefaultSchema at SchemaFile.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "schema")
	if err != nil {
		panic(err)
	}
	return sub
}
