// Package server hosts the dialogue controller over HTTP.
//
// ServerContext owns what every host shares: the session store, the
// classifier, the contact directory and a cache of per-user calendar
// gateways. HTTPServer exposes the browser chat API on top of it:
//
//   - GET  /auth/google and /auth/google/callback: Google sign-in
//   - GET  /api/user: the signed-in user
//   - POST /api/logout: drop the session
//   - POST /api/query: run one dialogue turn
//   - /healthz, /readyz, /healthz/detailed: probes
//
// A session cookie binds the browser to a session in the store; turns of
// one session are serialized through the store's lease. MetricsServer
// serves Prometheus metrics on a separate port.
package server
