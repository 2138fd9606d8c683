package sql

import (
	"embed"
)

// SchemaDir is the directory inside Content holding the DDL files.
const SchemaDir = "schema"

//go:embed schema/*.sql
var Content embed.FS
