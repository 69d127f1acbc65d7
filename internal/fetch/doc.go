// Package fetch downloads images through the two-tier cache. A Manager holds
// shared configuration (timeout, credentials, headers, cache-key derivation,
// default transform) and turns each Request into an Operation, which walks
// the cache check, network transfer, decode/transform and cache store stages
// and reports progress and exactly one terminal completion.
package fetch
