package repos

import "gorm.io/gorm/clause"

// lockingClause requests a row lock for the duration of the enclosing
// transaction. Postgres honors it as FOR UPDATE; the sqlite driver (used in
// local-only mode, and in tests) ignores clause.Locking entirely rather
// than erroring, which is fine here since sqlite already serializes writers
// at the database-file level.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
