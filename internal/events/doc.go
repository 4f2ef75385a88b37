// Package events implements the in-process publish/subscribe layer that
// fans task lifecycle and progress events out to live observers. Delivery is
// best-effort: publishing never blocks on a slow subscriber, and consumers
// that go quiet receive synthetic heartbeats so transport connections do not
// appear dead.
package events
