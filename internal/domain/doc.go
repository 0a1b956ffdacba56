// Package domain defines the document types of the recruitment CDP.
//
// Types in this package are pure value objects with no database
// dependencies and no HTTP concerns. JSON tags follow the document store
// layout (`_id`, `_type`, `_ref`), so the same structs round-trip through
// every docstore backend.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - Small accessor and predicate methods are allowed
//   - Constants and enums belong here
package domain
