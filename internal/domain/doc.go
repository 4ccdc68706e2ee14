// Package domain defines the core relay types and interfaces.
//
// Concept-oriented files (relay.go, options.go, transport.go, errors.go) hold the shared
// types and the consumer-side interfaces. No implementation code - just contracts.
package domain
