package migrations

import (
	"embed"
	"io/fs"
)

// FS embeds the SQL migrations. SQLite migrations sit at the root, the
// Postgres dialect under postgres/.
//
//go:embed *.sql postgres/*.sql
var FS embed.FS

// Postgres returns the Postgres dialect migrations rooted at their directory.
func Postgres() fs.FS {
	sub, err := fs.Sub(FS, "postgres")
	if err != nil {
		// postgres/ is embedded at compile time
		panic(err)
	}
	return sub
}
