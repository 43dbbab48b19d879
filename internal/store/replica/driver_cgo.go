//go:build cgo

package replica

// go-libsql is cgo-only; register its "libsql" driver only in cgo builds.
import _ "github.com/tursodatabase/go-libsql"
