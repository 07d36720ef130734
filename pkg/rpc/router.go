package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/log"
)

// Request is the wire form of one RPC call.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire form of one RPC result.
type Response struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *UserError  `json:"error,omitempty"`
}

// HandlerFunc dispatches a single decoded-and-validated call. Params is
// the raw JSON for handlers that decode their own shape.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Router is the method table. Registration happens at startup; dispatch
// is concurrent-safe afterwards.
type Router struct {
	mu       sync.RWMutex
	methods  map[string]HandlerFunc
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewRouter creates an empty method table.
func NewRouter() *Router {
	return &Router{
		methods:  make(map[string]HandlerFunc),
		validate: validator.New(),
		logger:   log.WithComponent("rpc"),
	}
}

// Register installs a raw handler. Duplicate registration panics, which
// surfaces wiring mistakes at startup.
func (r *Router) Register(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[method]; exists {
		panic(fmt.Sprintf("rpc: method %q registered twice", method))
	}
	r.methods[method] = h
}

// Handle registers a handler with a typed, validated params struct. P
// must be a struct; its validator tags are enforced before dispatch.
func Handle[P any](r *Router, method string, fn func(ctx context.Context, p P) (interface{}, error)) {
	r.Register(method, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p P
		if len(raw) > 0 {
			dec := json.NewDecoder(strings.NewReader(string(raw)))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&p); err != nil {
				return nil, UserErrorf(CodeInvalidParams, "failed to decode params for %s: %v", method, err)
			}
		}
		if err := r.validate.Struct(p); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok {
				var parts []string
				for _, fe := range verrs {
					parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
				}
				return nil, UserErrorf(CodeValidationFailed, "%s", strings.Join(parts, "; "))
			}
			return nil, UserErrorf(CodeValidationFailed, "%v", err)
		}
		return fn(ctx, p)
	})
}

// Dispatch resolves and runs a method. Unknown methods and handler
// user-errors come back as *UserError; everything else is internal.
func (r *Router) Dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.methods[method]
	r.mu.RUnlock()
	if !ok {
		return nil, UserErrorf(CodeUnknownMethod, "unknown method %q", method)
	}

	result, err := h(ctx, params)
	if err != nil {
		if _, isUser := AsUserError(err); !isUser {
			r.logger.Error().Err(err).Str("method", method).Msg("rpc method failed")
		}
		return nil, err
	}
	r.logger.Debug().Str("method", method).Msg("rpc method handled")
	return result, nil
}

// Call runs a request and folds the outcome into a Response. Internal
// errors are masked with a generic message; the detail stays in logs.
func (r *Router) Call(ctx context.Context, req Request) Response {
	result, err := r.Dispatch(ctx, req.Method, req.Params)
	if err != nil {
		if ue, ok := AsUserError(err); ok {
			return Response{Error: ue}
		}
		return Response{Error: &UserError{Code: "internal", Message: "internal error"}}
	}
	return Response{OK: true, Result: result}
}

// Methods lists registered method names, sorted. Used by
// system.capabilities.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
