// Relay is a two-tier streaming chat gateway.
//
// The public gateway (`relay serve`) admits chat requests after rate
// limiting, moderation and redaction, then forwards them over an
// HMAC-signed hop to the private backend (`relay backend`), which holds the
// upstream model credentials and relays the token stream back.
//
// Usage:
//
//	# Start the public gateway
//	relay serve --config relay.yaml
//
//	# Start the private backend
//	relay backend --config relay.yaml
//
//	# Generate a hop secret
//	relay keygen
//
//	# Print hop headers for a hand-made backend request
//	relay sign --data '{"messages":[{"role":"user","content":"hi"}]}'
package main

import "os"

func main() {
	os.Exit(Execute())
}
