// Package core contains the shared primitives of agencykit: conversation
// messages, tool call records, the per-run SharedState store and the error
// taxonomy used across the orchestration layers. Higher level packages
// (agent, tool, thread, agency) depend on core but never the other way
// around, keeping the dependency graph acyclic.
package core
