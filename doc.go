// Package pipecheck is a correctness harness for local named-channel
// endpoints: named pipes on Windows and Unix domain sockets elsewhere.
//
// A run binds a listener under a freshly generated, collision-free name,
// hands that name to a fixed number of client tasks, and serves exactly
// that many connections. Each connection carries one newline-terminated
// payload in the configured direction, and the receiving side verifies it
// byte for byte. Any bind failure, exchange failure or panicking task fails
// the run.
//
// # Overview
//
// The harness consists of several sub-packages:
//
//   - pkg/namegen: Unique endpoint name candidates
//   - pkg/endpoint: Platform listener and dialer
//   - pkg/binder: Bind with retry on name collision
//   - pkg/handoff: One-shot publication of the bound name
//   - pkg/serve: The accept loop, in blocking and cooperative backends
//   - pkg/exchange: Payload send, receive and verification
//   - pkg/client: The client task
//   - pkg/harness: Configuration and end-to-end orchestration
//
// # Running a Check
//
//	cfg := pipecheck.DefaultConfig()
//	cfg.Backend = pipecheck.Blocking
//	cfg.Direction = pipecheck.ServerToClient
//	cfg.NumClients = 8
//
//	out, err := pipecheck.Run(context.Background(), cfg)
//	if err != nil {
//	    log.Fatalf("run %s failed: %v", out.RunID, err)
//	}
//
// # Backends
//
// The blocking backend serves each accepted connection to completion before
// accepting the next and stops at the first exchange failure. The
// cooperative backend runs each connection in its own task, keeps
// accepting, and joins every task before reporting the first failure in
// accept order.
//
// # Observability
//
// Runs log through pkg/logging with a per-run ID, record Prometheus metrics
// through pkg/observability when enabled, and emit OpenTelemetry spans for
// each phase.
package pipecheck
