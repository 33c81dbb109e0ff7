// Package workflow drives shift coverage conversations from first message
// to calendar execution.
//
// The Engine advances a workflow through parameter extraction, clarification
// prompts, validation, and calendar submission, persisting serialized state
// after every step so a conversation survives restarts. State payloads keep
// unknown JSON keys across decode/encode cycles, allowing newer writers and
// older readers to share the same database.
package workflow
