// Package jobmanager runs queued node executions. A Manager turns a queued
// container into a Job and drives it through the container's notification
// protocol: pre-execute, execute, post-execute, finished.
//
// ThreadManager runs jobs on local goroutines bounded by a semaphore.
// RemoteManager ships them to a remote executor over socket.io.
package jobmanager
