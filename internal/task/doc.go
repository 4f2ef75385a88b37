// Package task defines the durable crawl task record, its options and
// progress models, and the lifecycle state machine every status change
// must follow.
package task
