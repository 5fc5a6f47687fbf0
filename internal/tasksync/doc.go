// Package tasksync mirrors a user's background tasks on a client.
//
// A Syncer polls the task API, merges server records with the tasks this
// client started itself, and keeps the execution handles of those local
// tasks. The server is authoritative except for three rules applied by the
// merge:
//
//   - a task this client finished keeps its terminal status when a slower
//     read reports an earlier status
//   - a server-side cancellation aborts the matching local execution
//   - on full syncs, tasks shown as running with no local execution and no
//     update for StaleAfter are demoted to cancelled
//
// The rules smooth over read races. They are not a consistency guarantee.
package tasksync
