// Package config provides configuration management for the relay.
//
// One YAML file configures both processes built from the relay binary:
// the public gateway (`relay serve`) and the private backend
// (`relay backend`). Shared sections (hop, store, telemetry) must agree
// between the two deployments; in particular hop.secret.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("relay.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RELAY_SECTION_FIELD:
//
//   - RELAY_GATEWAY_BACKEND_URL overrides gateway.backend_url
//   - RELAY_HOP_SECRET overrides hop.secret
//   - RELAY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Secret References
//
// hop.secret, moderation.api_key, backend.upstream.api_key and
// store.redis.url accept references instead of literal values:
//
//	hop:
//	  secret: env:RELAY_HOP_SECRET
//	moderation:
//	  api_key: file:/run/secrets/classifier-key
//
// # Configuration Precedence
//
//  1. Default values (NewDefaultConfig)
//  2. YAML file
//  3. Environment variables
//
// # Validation
//
// Validate collects every problem into a ValidationError. Settings only one
// process needs are checked by ValidateGateway and ValidateBackend.
//
// # Global Configuration
//
//	if err := config.Initialize("relay.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.GetConfig()
package config
