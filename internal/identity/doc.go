// Package identity bootstraps trust in a ledger's data-plane endpoint.
//
// Managed ledgers serve TLS with a certificate issued by their own network
// identity. CertStore fetches that certificate from the identity service once,
// keeps it in a PEM file and hands it to the ledger client for pinning.
package identity
