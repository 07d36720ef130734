// Package rpc implements the typed method router behind the control
// plane's JSON-over-HTTP surface. Methods register a params struct;
// the router decodes, validates (go-playground/validator tags) and
// dispatches. Failures callers can fix are reported as a distinct
// user-error kind so the web layer can map them to 4xx.
package rpc
