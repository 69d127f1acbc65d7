// Package server hosts the Fiber HTTP service that fronts the image cache and
// the fetch manager. It owns the middleware chain (panic recovery, request IDs)
// and the bootstrap helpers that turn a loaded config into a running cache,
// memory pressure monitor and fetch manager. Route handlers live in the
// routes sub-package and receive those components explicitly.
package server
