// Package modbustiles provides the embedded assets shared by cmd/supervisor.
package modbustiles

import "embed"

//go:embed db/schema.sql
var schemaFS embed.FS

// SchemaSQL is the fresh-install database schema, applied once at startup
// by database.DB.InitSchema.
var SchemaSQL = mustReadSchema()

func mustReadSchema() string {
	b, err := schemaFS.ReadFile("db/schema.sql")
	if err != nil {
		panic(err)
	}
	return string(b)
}
