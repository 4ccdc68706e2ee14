// Package relay implements the controller/screen registry and the rate-limited
// broadcast scheduler.
//
// Every namespace runs as a single worker goroutine fed by a command channel (no
// mutexes inside a namespace). Controller updates only mark the namespace dirty; a
// periodic tick flushes the latest snapshot to the screen group, so the outbound rate
// is bounded by the tick period regardless of the inbound rate.
package relay
