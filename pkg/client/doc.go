// Package client connects ports to the daemon: the CLI, bridges, and
// tests all speak to the socket through it. One Client multiplexes
// concurrent calls and subscriptions over a single connection.
package client
