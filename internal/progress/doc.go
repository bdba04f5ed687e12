// Package progress carries product crawl milestones from workers to sinks.
// Workers emit events without blocking; a Hub batches them on its own
// goroutine and hands each batch to every registered Sink.
package progress
