// Package cosmosstate implements a distributed session-state backend for
// multi-process web front-ends sharing sessions against a strongly-
// consistent NoSQL document store (Azure Cosmos DB SQL API by default).
//
// A session is two documents, each in its own logical partition: a content
// record holding the serialized session value, and a lock record (id
// "<session>_lock") giving exclusive-access callers a time-bounded,
// ETag-protected credential.
// Two-phase lock acquisition — an optimistic insert, falling back to a
// server-side conflict-arbitration script — avoids read-then-write races
// across processes without ever blocking a caller on a contended lock.
// A sliding-expiration rule dampens lifetime extension writes so a
// read-heavy session doesn't churn the store on every request.
//
// Call GetProvider with a connection Config to obtain a Provider, the
// facade a host web framework's session middleware drives: create an
// uninitialized session, read it shared or exclusive, write and release,
// and remove it. Providers are named singletons — repeated calls with the
// same name return the same backend and background workers.
package cosmosstate
