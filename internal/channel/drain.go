package channel

import (
	"bufio"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// diagTailBytes bounds the diagnostic tail kept per process.
	diagTailBytes = 4096
	maxLineBytes  = 1 << 20
)

// tail keeps the last max bytes written to it.
type tail struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTail(limit int) *tail { return &tail{max: limit} }

func (t *tail) appendLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// newScanner returns a line scanner with room for long generation lines.
func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return sc
}

// drainDiagnostics copies r line by line into the logger and tail until EOF.
// It keeps consuming after a scan error so the child never blocks on a full pipe.
func drainDiagnostics(r io.Reader, log zerolog.Logger, t *tail, done chan<- struct{}) {
	defer close(done)
	sc := newScanner(r)
	for sc.Scan() {
		line := sc.Text()
		t.appendLine(line)
		log.Warn().Str("stream", "stderr").Msg(line)
	}
	if err := sc.Err(); err != nil {
		log.Debug().Err(err).Msg("diagnostic scan stopped")
		_, _ = io.Copy(io.Discard, r)
	}
}
