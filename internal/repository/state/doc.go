// Package state implements persistence for the controller Status.
//
// The FileRepository stores and loads the status as JSON on disk and exposes
// a Repository interface that the status service depends on.
package state
