// Package netstatus tracks network reachability for the query layer.
//
// A Monitor answers two questions: is the network reachable at all, and is
// it too slow for speculative work. The query layer consults it to queue
// offline mutations and to skip prefetching on degraded links.
package netstatus
