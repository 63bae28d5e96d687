// Package all links in every store backend. Import it for side effects from
// binaries; libraries import only the backend they test against.
package all

import (
	_ "namesub/internal/store/mssql"
	_ "namesub/internal/store/mysql"
	_ "namesub/internal/store/postgres"
	_ "namesub/internal/store/sqlite"
)
