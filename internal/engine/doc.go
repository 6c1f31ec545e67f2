// Package engine implements the cooperative event loop that runs deferred
// work for a slicestore.
//
// The store itself is synchronous: Dispatch reduces, swaps and notifies
// before it returns. The only asynchronous piece is a thunk that wants to
// dispatch later. Such work is submitted to a Loop as a Task, either
// immediately (Post) or after a delay (After).
//
// ARCHITECTURE:
//
// Single-Goroutine Task Loop:
// All tasks run one at a time on the goroutine that drives the loop
// (Run, RunPending or RunUntilIdle). This ensures:
//   - Deferred dispatches never interleave with each other
//   - Tasks observe every state change made by earlier tasks
//   - Tests can drive the loop deterministically without sleeping
//
// Timers never run tasks themselves. When a timer fires it only enqueues
// the task, so the loop goroutine stays the single executor.
//
// Task Processing Flow:
//  1. Post/After enqueue a task (After via a timer from TimerFunc)
//  2. Run dequeues tasks one at a time in FIFO order
//  3. A task that panics is recovered and logged; the loop continues
//  4. Stop cancels pending timers and closes the queue
//
// The package also provides the logical Clock used to stamp dispatches and
// the flow token generators used to correlate a dispatch with the
// dispatches it causes.
package engine
