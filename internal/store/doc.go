// Package store implements the durable task repository: an in-memory map of
// task records mirrored to a single JSON file that is rewritten wholesale on
// every mutation.
package store
