// Package variant walks the selection controls of a single product page and
// emits one record per distinct purchasable variant.
//
// An Explorer drives a retailer Strategy depth-first over every parameter and
// option, waits for the page to settle through an Observer, deduplicates the
// resulting page states in an ExploredSet and hands each new state to the
// Emitter. Failures on a single branch are routed through a Classifier that
// decides whether to skip the branch, retry it, or abandon the product or the
// whole browsing session.
//
// An Explorer is bound to one page and is not safe for concurrent use.
// Parallelism happens across products, each with its own Explorer.
package variant
