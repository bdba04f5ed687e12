// Package sink holds the destinations emitted variant records are written
// to. Every sink implements variant.Sink; Multi fans a record out to several.
package sink
