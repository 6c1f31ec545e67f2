// Package ir provides the plain-data types that flow through a slicestore.
//
// This package contains message and value definitions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Actions are plain data: a non-empty type tag plus an optional payload
//   - Payloads are restricted to the sealed Value universe (no funcs, no
//     channels, no pointers) so every dispatched action is serializable
//   - Numbers are IEEE-754 doubles; NaN and ±Inf are legal payloads and are
//     encoded as the JSON strings "NaN", "Infinity" and "-Infinity"
//   - All JSON tags use snake_case
package ir
