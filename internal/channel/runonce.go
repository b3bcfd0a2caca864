package channel

import (
	"context"
	"io"
)

// Result describes a finished one-shot invocation.
type Result struct {
	ExitCode    int
	Diagnostics string
}

// RunOnce spawns a fresh process, hands each stdout line to onLine until it
// returns false, and waits for the process to exit. Output after onLine
// declines is still drained. A non-zero exit is reported in Result, not as an
// error; errors cover spawn failures and ctx cancellation.
func RunOnce(ctx context.Context, spec Spec, onLine func(string) bool) (Result, error) {
	res := Result{ExitCode: -1}
	log := spec.logger()
	cmd := spec.command(ctx)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, startError{binary: spec.Binary, err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, startError{binary: spec.Binary, err: err}
	}
	if err := cmd.Start(); err != nil {
		return res, startError{binary: spec.Binary, err: err}
	}
	log = log.With().Int("pid", cmd.Process.Pid).Logger()
	log.Debug().Str("event", "oneshot_start").Msg("one-shot process started")

	diag := newTail(diagTailBytes)
	diagDone := make(chan struct{})
	go drainDiagnostics(stderr, log, diag, diagDone)

	deliver := true
	sc := newScanner(stdout)
	for sc.Scan() {
		if deliver && !onLine(sc.Text()) {
			deliver = false
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn().Err(err).Msg("stdout scan stopped")
	}
	_, _ = io.Copy(io.Discard, stdout)
	<-diagDone

	waitErr := cmd.Wait()
	if ps := cmd.ProcessState; ps != nil {
		res.ExitCode = ps.ExitCode()
	}
	res.Diagnostics = diag.String()
	log.Debug().Str("event", "oneshot_exit").Int("code", res.ExitCode).AnErr("wait", waitErr).Msg("one-shot process exited")
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
