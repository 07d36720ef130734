package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// rpcMessage is the wire form of every app-server line: request,
// response or notification, distinguished by which fields are set.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const appServerCallTimeout = 30 * time.Second

// appServerSession drives a provider binary's persistent JSON-RPC mode
// over stdio: initialize, thread/start, turn/start, then notification
// consumption until turn/completed or process close.
type appServerSession struct {
	st    *runState
	stdin io.Writer

	mu        sync.Mutex
	nextID    int64
	pending   map[int64]chan rpcMessage
	threadID  string
	turnID    string
	assistant strings.Builder
	doneCh    chan struct{}
	doneOnce  sync.Once
}

func newAppServerSession(st *runState, stdin io.Writer) *appServerSession {
	return &appServerSession{
		st:      st,
		stdin:   stdin,
		pending: make(map[int64]chan rpcMessage),
		doneCh:  make(chan struct{}),
	}
}

// send writes one message as a single JSON line.
func (s *appServerSession) send(msg rpcMessage) error {
	msg.JSONRPC = "2.0"
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

// call issues a request and waits for its response.
func (s *appServerSession) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	ch := make(chan rpcMessage, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.send(rpcMessage{ID: &id, Method: method, Params: raw}); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.doneCh:
		return nil, fmt.Errorf("%s: provider closed the session", method)
	case <-time.After(appServerCallTimeout):
		return nil, fmt.Errorf("%s: no response from provider", method)
	}
}

// notify issues a request without waiting; used for turn/interrupt.
func (s *appServerSession) notify(method string, params interface{}) {
	var raw json.RawMessage
	if params != nil {
		if data, err := json.Marshal(params); err == nil {
			raw = data
		}
	}
	if err := s.send(rpcMessage{Method: method, Params: raw}); err != nil {
		s.st.logger.Debug().Err(err).Str("method", method).Msg("Failed to notify provider")
	}
}

// handleLine dispatches one complete stdout line from the provider.
func (s *appServerSession) handleLine(line string) {
	var msg rpcMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return // non-protocol output; already captured by the tee
	}

	switch {
	case msg.ID != nil && msg.Method == "":
		// Response to one of our requests.
		s.mu.Lock()
		ch, ok := s.pending[*msg.ID]
		if ok {
			delete(s.pending, *msg.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- msg
		}
	case msg.ID != nil:
		// Server-initiated request; the engine serves none.
		id := *msg.ID
		_ = s.send(rpcMessage{ID: &id, Error: &rpcError{Code: -32601, Message: "method not supported"}})
	default:
		s.handleNotification(msg)
	}

	s.scanCycleSignal(msg)
}

func (s *appServerSession) handleNotification(msg rpcMessage) {
	switch msg.Method {
	case "item/agentMessage/delta":
		var p struct {
			Delta string `json:"delta"`
			Text  string `json:"text"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		s.mu.Lock()
		if p.Delta != "" {
			s.assistant.WriteString(p.Delta)
		} else {
			s.assistant.WriteString(p.Text)
		}
		s.mu.Unlock()
	case "thread/tokenUsage/updated":
		var obj map[string]interface{}
		if err := json.Unmarshal(msg.Params, &obj); err == nil {
			if u := usageFromObject(s.st.req.Provider, obj, []string{"tokenUsage", "token_usage", "usage"}, 3); u != nil {
				s.st.ingestUsage(u)
			}
		}
	case "turn/completed":
		var p struct {
			Status string `json:"status"`
			Turn   struct {
				Status string `json:"status"`
			} `json:"turn"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		status := p.Status
		if status == "" {
			status = p.Turn.Status
		}
		if status == "" {
			status = "completed"
		}
		s.st.mu.Lock()
		s.st.completion = status
		s.st.mu.Unlock()
		s.doneOnce.Do(func() { close(s.doneCh) })
	case "error":
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		if p.Message != "" {
			s.st.mu.Lock()
			s.st.errText = p.Message
			s.st.mu.Unlock()
		}
	}
}

// scanCycleSignal watches for provider-reported context compaction and
// emits context.cycle.detected once per signal kind.
func (s *appServerSession) scanCycleSignal(msg rpcMessage) {
	if strings.Contains(strings.ToLower(msg.Method), "compact") {
		s.st.noteCycle(msg.Method)
		return
	}
	if len(msg.Params) > 0 {
		var p struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.Params, &p); err == nil &&
			strings.Contains(strings.ToLower(p.Type), "compact") {
			s.st.noteCycle(p.Type)
		}
	}
}

// interruptTurn asks the provider to stop the current turn.
func (s *appServerSession) interruptTurn() {
	s.mu.Lock()
	threadID, turnID := s.threadID, s.turnID
	s.mu.Unlock()
	s.notify("turn/interrupt", map[string]string{"threadId": threadID, "turnId": turnID})
}

// runAppServer drives a full app-server run: spawn, handshake, turn,
// wait for completion or close.
func (e *Engine) runAppServer(ctx context.Context, st *runState, workdir string) error {
	spec := st.req.Spec
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = workdir
	cmd.Env = mergedEnv(spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	session := newAppServerSession(st, stdin)
	out := e.ws.OutputsDir(st.run.ProjectID, st.run.RunID)
	outSink, err := newTeeSink(st, "stdout", filepath.Join(out, "stdout.txt"), session.handleLine)
	if err != nil {
		return err
	}
	errSink, err := newTeeSink(st, "stderr", filepath.Join(out, "stderr.txt"), nil)
	if err != nil {
		outSink.close()
		return err
	}

	if err := cmd.Start(); err != nil {
		outSink.close()
		errSink.close()
		return fmt.Errorf("failed to spawn %s: %w", spec.Command[0], err)
	}

	stopper := newStopController(st, types.RunModeAppServer,
		func() *os.Process { return cmd.Process }, session.interruptTurn)
	go stopper.watch(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); outSink.consume(stdout) }()
	go func() { defer wg.Done(); errSink.consume(stderr) }()
	go func() {
		// A provider that exits without turn/completed still ends the wait.
		wg.Wait()
		session.doneOnce.Do(func() { close(session.doneCh) })
	}()

	// Handshake and turn start run while the tee consumes responses.
	handshakeErr := func() error {
		if _, err := session.call(ctx, "initialize", map[string]interface{}{
			"clientInfo": map[string]string{"name": "agentcompany"},
		}); err != nil {
			return err
		}
		result, err := session.call(ctx, "thread/start", map[string]interface{}{})
		if err != nil {
			return err
		}
		var thread struct {
			ThreadID string `json:"threadId"`
			Thread   struct {
				ID string `json:"id"`
			} `json:"thread"`
		}
		_ = json.Unmarshal(result, &thread)
		session.mu.Lock()
		session.threadID = thread.ThreadID
		if session.threadID == "" {
			session.threadID = thread.Thread.ID
		}
		threadID := session.threadID
		session.mu.Unlock()

		result, err = session.call(ctx, "turn/start", map[string]interface{}{
			"threadId": threadID,
			"prompt":   spec.Prompt,
			"model":    spec.Model,
		})
		if err != nil {
			return err
		}
		var turn struct {
			TurnID string `json:"turnId"`
			Turn   struct {
				ID string `json:"id"`
			} `json:"turn"`
		}
		_ = json.Unmarshal(result, &turn)
		session.mu.Lock()
		session.turnID = turn.TurnID
		if session.turnID == "" {
			session.turnID = turn.Turn.ID
		}
		session.mu.Unlock()
		return nil
	}()

	if handshakeErr != nil {
		st.mu.Lock()
		if st.errText == "" {
			st.errText = handshakeErr.Error()
		}
		st.mu.Unlock()
		// A broken handshake is the provider's failure, not an operator
		// stop; terminate without the marker so the run ends as failed.
		stopper.terminate()
		_ = stdin.Close()
	} else {
		// Wait for turn completion, stop, or provider exit (tee EOF).
		select {
		case <-session.doneCh:
		case <-ctx.Done():
		}
		// Completed turns end the session politely.
		_ = stdin.Close()
	}

	wg.Wait()
	waitErr := cmd.Wait()
	stopper.finished()
	outSink.close()
	errSink.close()

	code := cmd.ProcessState.ExitCode()
	st.mu.Lock()
	st.exitCode = &code
	if waitErr != nil && st.errText == "" && code < 0 {
		st.errText = waitErr.Error()
	}
	st.mu.Unlock()

	// Persist the accumulated assistant message.
	session.mu.Lock()
	lastMessage := session.assistant.String()
	session.mu.Unlock()
	if lastMessage != "" {
		path := filepath.Join(out, "last_message.md")
		if err := os.WriteFile(path, []byte(lastMessage), 0644); err != nil {
			st.logger.Error().Err(err).Msg("Failed to write last_message.md")
		}
	}
	return nil
}
