// Package scheduler runs batches of named tasks with cooperative
// cancellation.
//
// A TaskRunner executes tasks either one at a time in submission order
// (NewSequential) or on a bounded number of workers (NewParallel). Every
// task receives a context that is cancelled by Stop; tasks are expected to
// check it between steps. Failures are collected per task and returned
// together as a *TaskExecutionError once the batch has drained.
package scheduler
