// Package session manages session lifetimes on top of a storage.Adapter.
//
// A Manager creates sessions with random identifiers, validates them on
// each request, extends sessions that are more than half way through their
// lifetime, and removes sessions that have expired or whose user no longer
// exists.
//
// Session identifiers are sent to the browser in a cookie. When the manager
// has a secret, the cookie value is signed and encrypted using
// gorilla/securecookie with keys derived from the secret. Without a secret
// the cookie holds the session identifier itself.
package session
