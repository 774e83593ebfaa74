// Package scheduler runs the recurring notification passes of the
// circulation core: a daily overdue pass, a daily reminder pass for
// loans due tomorrow, and a weekly cleanup of old notification records.
//
// The scheduler is an explicit, constructible service: it holds its own
// timer handles, is started and stopped by lifecycle calls, and gets
// its collaborators (loan source, notification log, notification sink,
// clock) injected. Every pass is idempotent per calendar day - running
// it twice produces no duplicate notifications - and is also exposed as
// a directly invocable operation for operational use and test harnesses.
package scheduler
