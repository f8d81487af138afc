// Package progress streams live crawl job events from workers to sinks. The
// Hub batches events on a background goroutine so emitters never block on
// slow consumers.
package progress
