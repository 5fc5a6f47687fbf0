// Package task manages background job queuing, processing, and lifecycle.
// It provides mechanisms for asynchronous execution of long-running CV
// operations (generation, PDF import, template creation and match scoring),
// keeping their persisted status records consistent with what actually ran,
// and reconciling records left behind by an application restart.
package task
