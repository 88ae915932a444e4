// Package observe provides observability primitives for data-access
// operations.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire the observer into the query and
// cache layers.
package observe
