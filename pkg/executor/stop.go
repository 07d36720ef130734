package executor

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/agentcompany/agentcompany/pkg/types"
)

const (
	appServerTermDelay = 100 * time.Millisecond
	killDelay          = 1500 * time.Millisecond
	stopPollInterval   = 100 * time.Millisecond
)

// stopController implements the stop/abort contract: raise the marker
// file, interrupt the provider politely, then escalate SIGTERM and
// SIGKILL on timers. The marker's presence at finalization decides the
// stopped status, whoever created it.
type stopController struct {
	st        *runState
	flagPath  string
	mode      types.RunMode
	proc      func() *os.Process
	interrupt func() // app-server turn/interrupt; nil in command mode

	once   sync.Once
	doneCh chan struct{}
}

func newStopController(st *runState, mode types.RunMode, proc func() *os.Process, interrupt func()) *stopController {
	return &stopController{
		st:        st,
		flagPath:  st.ws.StopFlagFile(st.run.ProjectID, st.run.RunID),
		mode:      mode,
		proc:      proc,
		interrupt: interrupt,
		doneCh:    make(chan struct{}),
	}
}

// watch notices context cancellation and externally created marker
// files. It returns when the subprocess has finished.
func (s *stopController) watch(ctx context.Context) {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.doneCh:
			return
		case <-ctx.Done():
			s.requestStop()
			// Keep watching until close so escalation timers stay armed.
			<-s.doneCh
			return
		case <-ticker.C:
			if _, err := os.Stat(s.flagPath); err == nil {
				s.requestStop()
			}
		}
	}
}

// finished releases the watcher once the subprocess has exited.
func (s *stopController) finished() {
	close(s.doneCh)
}

// requestStop raises the marker and begins signal escalation. Safe to
// call multiple times.
func (s *stopController) requestStop() {
	s.once.Do(func() {
		if _, err := os.Stat(s.flagPath); os.IsNotExist(err) {
			if err := os.WriteFile(s.flagPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
				s.st.logger.Error().Err(err).Msg("Failed to write stop marker")
			}
		}
		s.st.logger.Info().Msg("Stop requested")
		s.escalate()
	})
}

// terminate ends the subprocess after an internal failure. It never
// raises the marker, so the run finalizes as failed rather than stopped.
func (s *stopController) terminate() {
	s.once.Do(func() {
		s.st.logger.Info().Msg("Terminating provider after session failure")
		s.escalate()
	})
}

func (s *stopController) escalate() {
	if s.mode == types.RunModeAppServer {
		if s.interrupt != nil {
			s.interrupt()
		}
		time.AfterFunc(appServerTermDelay, func() { s.signal(syscall.SIGTERM) })
	} else {
		s.signal(syscall.SIGTERM)
	}
	time.AfterFunc(killDelay, func() { s.signal(syscall.SIGKILL) })
}

func (s *stopController) signal(sig syscall.Signal) {
	select {
	case <-s.doneCh:
		return // already exited
	default:
	}
	if p := s.proc(); p != nil {
		_ = p.Signal(sig)
	}
}

// stopRequested reports whether the marker exists now.
func (s *stopController) stopRequested() bool {
	_, err := os.Stat(s.flagPath)
	return err == nil
}
