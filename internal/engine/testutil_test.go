package engine

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	fakeOnce sync.Once
	fakePath string
	fakeErr  error
	fakeOut  []byte
)

// buildFakeGenie compiles testdata/fake_genie.go once per test binary.
func buildFakeGenie(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake genie not supported on windows")
	}
	if testing.Short() {
		t.Skip("short mode")
	}
	fakeOnce.Do(func() {
		dir, err := os.MkdirTemp("", "fake-genie")
		if err != nil {
			fakeErr = err
			return
		}
		fakePath = filepath.Join(dir, "fake_genie")
		cmd := exec.Command("go", "build", "-o", fakePath, "./testdata/fake_genie.go")
		cmd.Dir = "."
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		fakeOut, fakeErr = cmd.CombinedOutput()
	})
	if fakeErr != nil {
		t.Fatalf("build fake genie: %v: %s", fakeErr, string(fakeOut))
	}
	return fakePath
}

// workDir lays out a working directory holding the fake under both binary names.
func workDir(t *testing.T) string {
	t.Helper()
	bin := buildFakeGenie(t)
	data, err := os.ReadFile(bin)
	if err != nil {
		t.Fatalf("read fake: %v", err)
	}
	dir := t.TempDir()
	for _, name := range []string{DefaultPersistentBinary, DefaultOneShotBinary} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o755); err != nil {
			t.Fatalf("install %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

// newSession returns a session over a fresh work dir with env applied.
func newSession(t *testing.T, mut func(*Config), env ...string) (*Session, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	cfg := Config{WorkDir: workDir(t), ReadyTimeout: 5 * time.Second, Env: env, Publisher: pub}
	if mut != nil {
		mut(&cfg)
	}
	s := New(cfg)
	t.Cleanup(s.Shutdown)
	return s, pub
}

// recorder collects streamed tokens.
type recorder struct {
	mu      sync.Mutex
	toks    []string
	first   chan struct{}
	once    sync.Once
	failOn  int // 1-based token index that returns failErr; 0 disables
	failErr error
}

func newRecorder() *recorder { return &recorder{first: make(chan struct{})} }

func (r *recorder) onToken(tok string) error {
	r.mu.Lock()
	r.toks = append(r.toks, tok)
	n := len(r.toks)
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
	if r.failOn > 0 && n == r.failOn {
		return r.failErr
	}
	return nil
}

func (r *recorder) tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.toks))
	copy(out, r.toks)
	return out
}

// split separates word tokens from the trailing metrics token.
func (r *recorder) split(t *testing.T) ([]string, string) {
	t.Helper()
	toks := r.tokens()
	if len(toks) == 0 {
		t.Fatalf("no tokens delivered, expected at least the metrics token")
	}
	last := toks[len(toks)-1]
	if !strings.HasPrefix(last, "\n\n[") {
		t.Fatalf("last token is not a metrics token: %q", last)
	}
	for _, tok := range toks[:len(toks)-1] {
		if strings.HasPrefix(tok, "\n\n[") {
			t.Fatalf("metrics token delivered more than once: %q", toks)
		}
	}
	return toks[:len(toks)-1], last
}
