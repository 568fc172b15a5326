// Package alert contains the domain types of an alert episode.
//
// Behavior is the tagged variant selecting which information is broadcast
// and which wait table is used between broadcasts. Context is the mutable
// state of one episode, and Status is the snapshot of the controller that is
// persisted and published, with Clone helpers to avoid leaking references.
package alert
