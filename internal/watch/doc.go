// Package watch turns a stream of filesystem changes into debounced, single-flight
// runs of the extract/index pipeline.
//
// A Watcher owns a ChangeSet (the pending paths and the pipeline state), an Executor
// that runs the pipeline against a snapshot of the pending paths, and a Scheduler that
// polls the ChangeSet for readiness. Event callbacks only enqueue; pipeline runs happen
// on the scheduler goroutine. After a failed run the pipeline stays gated until a new
// change arrives.
package watch
