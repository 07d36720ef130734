/*
Package client provides a Go client library for the AgentCompany HTTP
API.

The client wraps the RPC dispatch endpoint with a convenient, idiomatic
Go interface: connection reuse, timeouts, error unwrapping, and typed
methods for the common operations.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                             │
	│  import "github.com/agentcompany/agentcompany/pkg/client"  │
	│                                                             │
	│  cli := client.New("http://127.0.0.1:7717")                │
	│  job, err := cli.SubmitJob(ctx, projectID, spec)           │
	│                                                             │
	└──────────────────┬──────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                             │
	│  Call(ctx, method, params, &result)                         │
	│    - encodes an rpc.Request                                 │
	│    - POST /api/rpc                                          │
	│    - decodes the rpc.Response envelope                      │
	│    - user errors come back as *rpc.UserError                │
	│                                                             │
	└─────────────────────┬─────────────────────────────────────┘
	                      │ HTTP (default 127.0.0.1:7717)
	                      ▼
	              Control plane web server

# Error Handling

Method-level failures (unknown method, validation, not-found codes)
are returned as *rpc.UserError and can be inspected with
rpc.AsUserError. Transport failures are plain wrapped errors.

# Thread Safety

The client is safe for concurrent use; it keeps no mutable state
beyond the shared http.Client.
*/
package client
