// Package reactive provides a minimal equality-gated observable cell.
//
// It is the substrate the cache and query packages publish values through.
// There is no dependency tracking engine: a Cell is a current value plus an
// explicit subscriber list, which is all the rest of the module requires.
package reactive
