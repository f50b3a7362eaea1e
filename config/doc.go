// Package config loads the branch host configuration.
//
// Configuration comes from a single YAML file named by the --config flag or the
// SCG_CONFIG environment variable, after optional .env files have been loaded into the
// environment. A small set of environment variables override file values:
//   - SCG_HTTP_ADDR overrides http.addr
//   - SCG_TRANSPORT overrides transport.kind
//   - SCG_LOG_LEVEL overrides log.level
//
// Without a file the defaults apply: a memory transport and an HTTP listener on :8080.
package config
