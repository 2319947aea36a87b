// Package database provides the bounded connection pool shared by every
// persistent component of the memory store.
// This package is internal and should not be imported by external projects.
package database
