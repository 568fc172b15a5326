// Package health exposes the controller status through the standard gRPC
// health checking protocol.
//
// Service "arms" is SERVING while the controller operates normally and
// service "arms.alert" is NOT_SERVING while an alert is in progress, so that
// ordinary health probes double as alert monitors.
package health
