package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcompany/agentcompany/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	m.Run()
}

type echoParams struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=0"`
}

func newEchoRouter(t *testing.T) *Router {
	t.Helper()
	r := NewRouter()
	Handle(r, "test.echo", func(ctx context.Context, p echoParams) (interface{}, error) {
		return map[string]interface{}{"name": p.Name, "count": p.Count}, nil
	})
	return r
}

func TestDispatchTypedHandler(t *testing.T) {
	r := newEchoRouter(t)
	result, err := r.Dispatch(context.Background(), "test.echo",
		json.RawMessage(`{"name":"x","count":2}`))
	require.NoError(t, err)
	assert.Equal(t, "x", result.(map[string]interface{})["name"])
}

func TestUnknownMethodIsUserError(t *testing.T) {
	r := newEchoRouter(t)
	_, err := r.Dispatch(context.Background(), "nope.nothing", nil)
	ue, ok := AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownMethod, ue.Code)
}

func TestValidationFailureIsUserError(t *testing.T) {
	r := newEchoRouter(t)
	_, err := r.Dispatch(context.Background(), "test.echo",
		json.RawMessage(`{"count":-1}`))
	ue, ok := AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidationFailed, ue.Code)
	assert.Contains(t, ue.Message, "Name")
}

func TestMalformedParamsIsUserError(t *testing.T) {
	r := newEchoRouter(t)
	_, err := r.Dispatch(context.Background(), "test.echo",
		json.RawMessage(`{"name":`))
	ue, ok := AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidParams, ue.Code)

	_, err = r.Dispatch(context.Background(), "test.echo",
		json.RawMessage(`{"name":"x","bogus":true}`))
	ue, ok = AsUserError(err)
	require.True(t, ok, "unknown fields are rejected")
	assert.Equal(t, CodeInvalidParams, ue.Code)
}

func TestCallMasksInternalErrors(t *testing.T) {
	r := NewRouter()
	r.Register("test.boom", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, errors.New("database exploded at /var/secret/path")
	})

	resp := r.Call(context.Background(), Request{Method: "test.boom"})
	require.NotNil(t, resp.Error)
	assert.False(t, resp.OK)
	assert.Equal(t, "internal", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "secret")
}

func TestCallSuccess(t *testing.T) {
	r := newEchoRouter(t)
	resp := r.Call(context.Background(), Request{
		Method: "test.echo",
		Params: json.RawMessage(`{"name":"ok"}`),
	})
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Error)
}

func TestMethodsSorted(t *testing.T) {
	r := newEchoRouter(t)
	r.Register("a.first", func(ctx context.Context, _ json.RawMessage) (interface{}, error) { return nil, nil })
	assert.Equal(t, []string{"a.first", "test.echo"}, r.Methods())
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	r := newEchoRouter(t)
	assert.Panics(t, func() {
		r.Register("test.echo", func(ctx context.Context, _ json.RawMessage) (interface{}, error) { return nil, nil })
	})
}
