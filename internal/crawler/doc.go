// Package crawler holds the contracts shared by the crawl driver: product
// requests, the queue that carries them and the storage, publishing and
// identity helpers the worker and sinks depend on.
package crawler
