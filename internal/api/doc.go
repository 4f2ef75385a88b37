// Package api exposes the HTTP interface for the orchestration service:
// task CRUD, control verbs, and live Server-Sent Event streams.
package api
