// Package store persists shiftwatch state in SQLite: the message intake
// queue, conversation workflows, and the conversation log. It is the single
// source of truth for all durable state; every mutation goes through the
// Store so timestamps and status transitions stay consistent.
package store
