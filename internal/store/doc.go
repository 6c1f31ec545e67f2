// Package store implements the centralized reducer store.
//
// A Store owns an immutable whole-state tree keyed by slice name. Callers
// change it only by dispatching messages:
//
//   - A plain ir.Action is run through the middleware chain into the root
//     reducer, which hands it to every slice reducer. If any slice's result
//     is not value-equal to its input, a new tree replaces the old one and
//     subscribers are notified.
//   - A Thunk is invoked synchronously with the store's Dispatch and
//     GetState. It may dispatch now, or schedule work that dispatches later.
//
// CRITICAL: The tree is never mutated. Every change builds a new State and
// swaps it in atomically, so a State obtained from GetState stays valid and
// unchanged forever.
//
// Every plain action dispatched is stamped with a monotonic sequence number
// and a flow token (see Meta). Actions dispatched from inside a thunk
// inherit the flow token of the dispatch that started the thunk.
package store
