package migrations

import "embed"

// FS holds the schema files for every supported driver, one directory per
// driver (postgres/, sqlite/). Files run in lexicographical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
