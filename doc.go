// Package capgw and its sub-packages implement a gateway between client applications and a blockchain that meters
// write access with capacity, a resource renewed every epoch, instead of per-transaction fees.
/*
capgw provides you with two microservices:

1) a publisher microservice (package publisher) that consumes a durable job queue and submits the calls of every job
 to the chain while the provider has capacity left. Requests are enqueued through a small RESTful API (package
 gateway) that deduplicates them, so clients can safely retry.

2) a scanner microservice (package scanner) that walks the chain block by block from a persisted cursor and dispatches
 the events of every block to the handlers registered for them.

Architecture

The services share a Redis store holding the job queue (package lib/queue), the scan cursors and the capacity used by
this service in the current epoch. Transactions accepted by the chain are recorded in a database (package lib/store)
so a confirmation watcher can follow them; the database is product agnostic and configured via a JSON config file at
service startup.

A chain layer (package lib/chain) defines the client both services use to read blocks, events and the capacity ledger
and to submit calls. The client monitors the node connectivity: the scanner pauses while the node is unreachable and
the publisher waits for it before starting its workers.

The capacity accountant (package capacity) is consulted by the publisher on a timer and whenever capacity changes
state. When a configured limit trips, the publisher pauses its queue until the next epoch; when capacity is available
again, jobs rejected for lack of capacity are retried and the queue resumes.

The scanner publishes the configured chain events to a message broker (package lib/msg), records the capacity used by
transactions submitted by the publisher and enqueues the follow-on requests carried by chain events.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Publisher

The publisher microservice can be started running cmd/publisher/main.go. Worker concurrency, retry attempts and
backoff, and the capacity limits (service and/or total, as a percentage of the capacity issued or an absolute value)
are read from the configuration.

Scanner

The scanner microservice can be started running cmd/scanner/main.go. Each scanner has an identity owning its cursor,
so several scanners can run against the same node. By default only finalized blocks are scanned.

*/
package capgw
