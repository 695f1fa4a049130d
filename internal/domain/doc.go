// Package domain defines the shared types of the inbox reconciler: accounts
// as every provider adapter normalizes them, the four-way classification,
// planned actions and the persisted snapshot row.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure helper methods are allowed; I/O is not
package domain
