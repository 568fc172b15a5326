// Package status keeps the latest controller status, persists it and
// publishes it to the status surfaces.
package status
