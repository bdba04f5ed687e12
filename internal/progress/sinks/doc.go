// Package sinks holds progress.Sink implementations: structured logs,
// Prometheus collectors and the product run repository.
package sinks
