// Package handler serves the ledger gateway's HTTP API: the /api/ledger
// facade over EntryService, the /api/journal read endpoints and the shared
// middleware (request IDs, logging, rate limiting, metrics).
package handler
