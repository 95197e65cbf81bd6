// Package fetch decides, per request, whether to serve from the cache,
// go to the network, or both, and drives the request lifecycle
// (UNSEEN -> PENDING -> SUCCEEDED | FAILED) through a resource.Store.
//
// Policies:
//
//	policy             cache read   network triggered when
//	cache-first        yes          the request is not yet tracked
//	cache-and-network  yes          always
//	network-only       no           always
//	cache-only         yes          never
//
// At most one network operation per request key is in flight; a second
// trigger while one is pending joins it instead. Refetch forces a new
// cycle under any policy and leaves previously visible data visible until
// the response lands.
//
// Network completions never touch the store directly. Each completion is
// enqueued and applied, in FIFO order, by the single writer: Client.Run on
// a dedicated goroutine, or Client.Drain for synchronous callers.
package fetch
