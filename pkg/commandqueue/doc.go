// Package commandqueue provides the asynchronous command-queue proxy that sits
// between a host and its trackers.
//
// A host queues calls before any tracker exists. The proxy replays that
// pending buffer on construction and then forwards every later Push to the
// trackers registered under the targeted namespaces.
//
// Invariants:
// - Calls are dispatched in the order they were pushed; the pending buffer
//   is dispatched before anything pushed after New returns.
// - Within one call, trackers are invoked in resolved order.
// - A failing or panicking tracker never stops the fan-out or later calls.
// - The tracker registry belongs to one Proxy and only grows.
//
// Usage:
//
//	proxy, err := commandqueue.New(commandqueue.Options{
//		Version: "js-2.0.0",
//		State:   state,
//		Factory: factory,
//	}, pending...)
//	if err != nil {
//		return err
//	}
//	proxy.Push(
//		commandqueue.Call{"newTracker", "main"},
//		commandqueue.Call{"trackPageView:main", "Home"},
//	)
package commandqueue
