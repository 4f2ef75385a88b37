// Package scheduler implements the admission queue and worker loop that
// drive crawl tasks through their lifecycle. It owns the cooperative
// pause/cancel protocol, the per-task control state, retry and auto-delete
// policy, and startup recovery. The actual crawl work is delegated to an
// injected Runner that reports back through a Handle.
package scheduler
