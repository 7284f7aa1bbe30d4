// Package trcagent is the storage and lifecycle core of an application tracing
// agent. It decides which spans of a transaction are captured in full, and it
// stores completed transactions in a size-bounded store.
//
// A [Collector] starts a [Transaction] for each unit of work, like a request.
// Instrumented calls within the transaction start a [TraceEntry] each. Every
// transaction admits a limited number of real entries, after which entries
// are created as dummies: cheap placeholders that aren't stored. Dummies are
// escalated to real entries only if they prove interesting, by being slow or
// ending in error, and only up to a hard cap of twice the soft limit. This
// keeps memory bounded even for transactions with enormous numbers of calls.
//
// When the root entry of a transaction ends, the collector writes the real
// entries, and any profile samples, to a [trccapped.Store]. The store has a
// fixed capacity, and evicts the oldest records first. Stats about the stored
// categories are available via [TraceStats].
package trcagent
