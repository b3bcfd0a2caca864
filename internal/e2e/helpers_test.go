// Package e2e runs the HTTP API against a real engine, a real SQLite store
// and the fake Genie binary.
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"genied/internal/chat"
	"genied/internal/engine"
	"genied/internal/httpapi"
	"genied/internal/store"
	"genied/pkg/types"
)

var (
	fakeOnce sync.Once
	fakePath string
	fakeErr  error
	fakeOut  []byte
)

// genieDir lays out a work dir with the fake under both binary names.
func genieDir(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake genie not supported on windows")
	}
	if testing.Short() {
		t.Skip("short mode")
	}
	fakeOnce.Do(func() {
		dir, err := os.MkdirTemp("", "fake-genie-e2e")
		if err != nil {
			fakeErr = err
			return
		}
		fakePath = filepath.Join(dir, "fake_genie")
		cmd := exec.Command("go", "build", "-o", fakePath, "../engine/testdata/fake_genie.go")
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		fakeOut, fakeErr = cmd.CombinedOutput()
	})
	if fakeErr != nil {
		t.Fatalf("build fake genie: %v: %s", fakeErr, string(fakeOut))
	}
	data, err := os.ReadFile(fakePath)
	if err != nil {
		t.Fatalf("read fake: %v", err)
	}
	dir := t.TempDir()
	for _, name := range []string{engine.DefaultPersistentBinary, engine.DefaultOneShotBinary} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o755); err != nil {
			t.Fatalf("install %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, engine.DefaultConfigFile), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

type stack struct {
	srv  *httptest.Server
	eng  *engine.Session
	db   string
	work string
}

// newStack starts the engine (when start is set) and serves the API over a
// store at db. env selects fake behaviour.
func newStack(t *testing.T, work, db string, start bool, env ...string) *stack {
	t.Helper()
	st, err := store.OpenSQLite(db, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	eng := engine.New(engine.Config{WorkDir: work, ReadyTimeout: 5 * time.Second, Env: env})
	if start {
		eng.Start(context.Background())
	}
	srv := httptest.NewServer(httpapi.NewMux(eng, chat.NewManager(eng, st, 0, nil)))
	t.Cleanup(func() {
		srv.Close()
		eng.Shutdown()
		_ = st.Close()
	})
	return &stack{srv: srv, eng: eng, db: db, work: work}
}

func (s *stack) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func (s *stack) createSession(t *testing.T) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", resp.StatusCode, body)
	}
	var sr types.SessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		t.Fatalf("json: %v", err)
	}
	return sr.ID
}

// send posts a streamed message and returns the tokens and the done line.
func (s *stack) send(t *testing.T, id, message string) ([]string, types.DoneEvent) {
	t.Helper()
	b, _ := json.Marshal(types.MessageRequest{Message: message})
	resp, body := s.do(t, http.MethodPost, "/sessions/"+id+"/messages", string(b))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status=%d body=%s", resp.StatusCode, body)
	}
	var tokens []string
	var done types.DoneEvent
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
			t.Fatalf("ndjson: %v (%q)", err, sc.Text())
		}
		if _, ok := raw["done"]; ok {
			_ = json.Unmarshal(sc.Bytes(), &done)
			continue
		}
		var ev types.TokenEvent
		_ = json.Unmarshal(sc.Bytes(), &ev)
		tokens = append(tokens, ev.Token)
	}
	if !done.Done {
		t.Fatalf("stream missing done line: %q", body)
	}
	return tokens, done
}

func (s *stack) status(t *testing.T) types.StatusResponse {
	t.Helper()
	_, body := s.do(t, http.MethodGet, "/status", "")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	return st
}
