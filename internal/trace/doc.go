// Package trace records every dispatch that reaches a store's reducers in
// a SQLite table.
//
// The trace is diagnostic: it describes what happened during one process
// lifetime (or one scenario run) and is never used to rehydrate a store.
// The default database is ":memory:".
//
// Each record carries:
//   - seq: the logical sequence number stamped by the store
//   - id: content-addressed action id (ir.ActionID)
//   - flow_token: correlation token shared by a dispatch and its follow-ups
//   - action_type and canonical payload
//   - changed: whether the dispatch produced a new state tree
//   - state and state_hash: the tree after the dispatch, canonical JSON
//
// # Critical Patterns
//
// Logical Time:
//   - All ordering uses seq INTEGER, never wall-clock timestamps
//   - Queries include ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Idempotent Writes:
//   - INSERT ... ON CONFLICT(id) DO NOTHING
//
// # Database Configuration
//
//   - WAL mode for file databases: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - A single connection, so ":memory:" databases survive between queries
package trace
