// Package ledger is a Go client for the data plane of a managed confidential
// ledger.
//
// The service stores immutable, append-only entries grouped into collections
// (sub-ledgers) and guarantees ordering and tamper evidence on its side. This
// package only speaks its REST API: it appends entries, reads them back by
// transaction ID, pages through collections and fetches the network identity
// certificate that clients must trust when talking to the ledger endpoint.
//
// # Trusting the ledger
//
// The data-plane endpoint presents a TLS certificate signed by the ledger's own
// network identity, not by a public CA. Fetch it once from the identity service
// and pin it:
//
//	ids := ledger.NewIdentityClient("https://identity.confidential-ledger.core.azure.com")
//	id, err := ids.GetLedgerIdentity(ctx, "my-ledger")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c, err := ledger.New("https://my-ledger.confidential-ledger.azure.com",
//	    ledger.WithCertificatePEM([]byte(id.TLSCertificate)),
//	    ledger.WithTokenSource(tokens),
//	)
//
// # Reading fresh writes
//
// A write is acknowledged before it is durably committed. Reading it back
// immediately may return a result whose State is StateLoading and whose Entry
// is nil; callers decide how long to keep asking.
package ledger
