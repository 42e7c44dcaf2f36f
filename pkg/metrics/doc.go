// Package metrics holds the daemon's prometheus collectors and the
// optional loopback /metrics endpoint enabled by developer mode.
package metrics
