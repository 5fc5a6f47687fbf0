// Package events carries job submissions from the API to the job
// dispatcher without either side importing the other.
//
// The API builds a TaskRequestEvent whose ID becomes the task ID, so it
// can answer 202 with that ID before the job is queued. The emitter
// hands the event to every registered EventHandler synchronously; a
// submission nobody handles is an error rather than a silently lost task.
package events
