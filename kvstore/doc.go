// Package kvstore adapts a shared Redis deployment into named key-value
// collections with a live-key membership index and an advisory lock.
//
// # Key layout
//
// Every collection lives under a namespace "<prefix>_<environment>_<collection>":
//
//   - _dbs                       registry set of every namespace ever opened
//   - <namespace>_v_<key>        serialized value
//   - <namespace>_m_keys         membership index of live keys
//   - <namespace>_m_keys_lock    lease-based advisory lock for the collection
//
// # Consistency
//
// [Adapter.Set], [Adapter.Unset], [Adapter.Expire] and [Adapter.Replace]
// write the value and the membership index inside the collection lock and a
// MULTI/EXEC pipeline, so readers of [Adapter.Exists] never observe one write
// without the other. Keys with a scheduled expiry are dropped from the index
// immediately; for such keys [Adapter.Get] is the authoritative liveness
// signal. [Adapter.Replace] uses SET XX, so a value removed by a concurrent
// Unset stays removed.
//
// # What this package must NOT do
//
//   - Interpret stored values (callers own their encoding via
//     encoding.BinaryMarshaler or fall back to JSON).
//   - Retry failed Redis calls. Every failure is returned wrapped in
//     [ErrUnavailable] and is terminal for the caller's request.
package kvstore
