// Package signing implements per-hop request authentication between the
// gateway and the backend.
//
// Every hop carries four headers:
//
//	Request-Timestamp  sender clock, milliseconds since the Unix epoch
//	Request-Nonce      single-use random token (32 bytes, hex)
//	Body-Digest        hex SHA-256 of the exact body bytes
//	Request-Signature  hex HMAC-SHA256 over ts.nonce.method.path.digest
//
// Verification fails closed. A request is accepted only when the timestamp
// is inside the configured skew bound, the recomputed digest equals the
// claimed digest, and the recomputed signature equals the claimed signature.
// Both comparisons run in constant time.
//
// Basic usage:
//
//	signer := signing.NewSigner(secret, clock.New())
//	env, err := signer.SignRequest(req, body)
//
//	verifier := signing.NewVerifier(secret, 3*time.Minute, clock.New())
//	if err := verifier.Verify(signing.FromRequest(r), body); err != nil {
//	    // err is a *signing.VerifyError carrying the reason
//	}
package signing
