// Package hop is the HTTP client for inter-service hops.
//
// The gateway uses a Client with a signing.Signer to call the backend: every
// attempt is signed with a fresh nonce and timestamp over the exact body
// bytes. The backend uses an unsigned Client (with a Bearer header) to call
// the generation upstream.
//
// Stream returns the response body once headers arrive with a 2xx status.
// Everything else becomes an *UpstreamError: transport failures, response
// header timeouts and non-2xx statuses. Connection failures are retried with
// backoff before any byte of a response has been seen; a stream is never
// retried once it has started.
//
//	client, err := hop.NewClient(hop.Config{
//	    URL:     "http://backend:8081/internal/chat",
//	    Timeout: 30 * time.Second,
//	}, signing.NewSigner(secret, nil))
//	body, err := client.Stream(ctx, payload)
//	defer body.Close()
package hop
