// Package hub is the central broadcaster. It accepts TLS connections from
// regional agents, periodically solicits their queued changes and relays
// every batch it receives to all other agents. A bounded history of recent
// batches is replayed to agents as they connect.
//
// The hub never parses or mutates the events it relays.
package hub
