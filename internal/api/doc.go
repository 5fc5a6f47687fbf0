// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It exposes the task polling endpoints used by
// clients to mirror background work across devices, and the CV endpoints
// that submit new background jobs.
package api
