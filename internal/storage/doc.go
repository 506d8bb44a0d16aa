// Package storage persists clans and their kill history.
//
// One Clan row exists per channel; each clan owns an append-only log of kill
// records. Drivers:
//   - "sqlite": pure-Go SQLite file (default)
//   - "postgres": PostgreSQL via pgx
//   - "memory": process-local, for tests and dry runs
package storage
