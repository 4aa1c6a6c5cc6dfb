// Package migrations embeds the journal schema into the binary.
//
// Importing it for side effects registers the files with the database package:
//
//	import _ "github.com/nerrad567/stomplink/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/stomplink/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files, ".")
}
