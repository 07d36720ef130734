package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// runCommand executes a one-shot argv subprocess, teeing its stdio.
func (e *Engine) runCommand(ctx context.Context, st *runState, workdir string) error {
	spec := st.req.Spec
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = workdir
	cmd.Env = mergedEnv(spec.Env)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	out := e.ws.OutputsDir(st.run.ProjectID, st.run.RunID)
	extractor := ExtractorFor(st.req.Provider)
	onLine := func(line string) {
		for _, u := range extractor.Extract(line) {
			st.ingestUsage(u)
		}
	}
	outSink, err := newTeeSink(st, "stdout", filepath.Join(out, "stdout.txt"), onLine)
	if err != nil {
		return err
	}
	errSink, err := newTeeSink(st, "stderr", filepath.Join(out, "stderr.txt"), onLine)
	if err != nil {
		outSink.close()
		return err
	}

	if err := cmd.Start(); err != nil {
		outSink.close()
		errSink.close()
		return fmt.Errorf("failed to spawn %s: %w", spec.Command[0], err)
	}

	stopper := newStopController(st, types.RunModeCommand, func() *os.Process { return cmd.Process }, nil)
	go stopper.watch(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); outSink.consume(stdout) }()
	go func() { defer wg.Done(); errSink.consume(stderr) }()
	wg.Wait()

	waitErr := cmd.Wait()
	stopper.finished()
	outSink.close()
	errSink.close()

	code := cmd.ProcessState.ExitCode()
	st.mu.Lock()
	st.exitCode = &code
	st.mu.Unlock()
	if waitErr != nil && code < 0 {
		st.errText = waitErr.Error()
	}
	return nil
}
