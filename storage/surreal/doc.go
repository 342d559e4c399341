// Package surreal has a storage adapter that keeps sessions in a SurrealDB table.
//
// SurrealDB identifies records by record IDs of the form table:key. The
// session manager only knows plain string IDs, so the adapter converts
// between the two: the plain ID is the key part of the record ID, and
// the table part comes from the configured table names.
//
// A session record has the following fields:
//
//	id          record ID in the session table
//	user        record ID in the user table (a record link)
//	expires_at  datetime that the session expires
//	...         any session attributes, as top-level fields
//
// User records are created outside of this package. Apart from id, every
// field of a user record is a user attribute.
package surreal
