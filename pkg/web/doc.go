// Package web serves the control plane over HTTP: REST snapshot
// endpoints for the desktop shell, a JSON RPC dispatch route, an SSE
// stream that pushes debounced change notifications, and prometheus
// metrics.
package web
