// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the job orchestration core, which only ever reads and writes task
// records, CVs and usage counters through them.
package store
