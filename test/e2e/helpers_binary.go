//go:build e2e

package e2e

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/oppsync/internal/types"

	_ "modernc.org/sqlite"
)

// oppsyncServer manages a running oppsync server process.
type oppsyncServer struct {
	cmd        *exec.Cmd
	dataDir    string
	configPath string
	address    string
	apiKey     string
	logFile    string
}

const binaryConfig = `
state:
  path: %[1]s/oppsync.db
orgs:
  source:
    path: %[1]s/org-a.db
  target:
    path: %[1]s/org-b.db
jobs:
  - name: opportunity-amount
    poll_frequency: 200ms
    poll_start_delay: 50ms
    watermark_default_offset: 1h
    retry_base_delay: 10ms
    filter:
      expression: "Amount: >5000"
push:
  await_timeout: 10s
  organization_id: ` + testOrgID + `
log:
  level: debug
  format: json
`

// startOppsync launches the oppsync binary and waits for it to become healthy.
func startOppsync(t *testing.T) *oppsyncServer {
	t.Helper()
	requireOppsync(t)

	dataDir := t.TempDir()
	configPath := filepath.Join(dataDir, "oppsync.yaml")
	if err := os.WriteFile(configPath, []byte(fmt.Sprintf(binaryConfig, dataDir)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s := &oppsyncServer{
		dataDir:    dataDir,
		configPath: configPath,
		apiKey:     testAPIKey,
	}
	s.launch(t, "oppsync.log")
	return s
}

func (s *oppsyncServer) launch(t *testing.T, logName string) {
	t.Helper()

	port := freePort(t)
	s.address = fmt.Sprintf("127.0.0.1:%d", port)
	s.logFile = filepath.Join(s.dataDir, logName)

	cmd := exec.Command(oppsyncBin, "--config", s.configPath)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("OPPSYNC_PORT=%d", port),
		"OPPSYNC_API_KEY="+s.apiKey,
	)

	lf, err := os.Create(s.logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start oppsync: %v", err)
	}
	s.cmd = cmd

	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("oppsync not healthy: %v", err)
	}
}

func (s *oppsyncServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

// restartOnSameData stops the server and starts it again over the same
// databases on a new port.
func (s *oppsyncServer) restartOnSameData(t *testing.T) *oppsyncServer {
	t.Helper()
	s.stop()

	next := &oppsyncServer{
		dataDir:    s.dataDir,
		configPath: s.configPath,
		apiKey:     s.apiKey,
	}
	next.launch(t, "oppsync-restart.log")
	return next
}

func (s *oppsyncServer) baseURL() string {
	return fmt.Sprintf("http://%s", s.address)
}

func (s *oppsyncServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("%s/api/v1/health", s.baseURL())

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("oppsync not healthy after %s", timeout)
}

func (s *oppsyncServer) db(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(s.dataDir, name)+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// push posts a SOAP delivery and returns the status and body.
func (s *oppsyncServer) push(t *testing.T, job string, body []byte) (int, []byte) {
	t.Helper()
	url := fmt.Sprintf("%s/api/v1/push/%s", s.baseURL(), job)
	resp, err := http.Post(url, "text/xml; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (s *oppsyncServer) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.baseURL()+path, nil)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (s *oppsyncServer) watermark(t *testing.T, job string) time.Time {
	t.Helper()
	var resp types.WatermarkResponse
	if code := s.getJSON(t, "/api/v1/watermarks/"+job, &resp); code != http.StatusOK {
		t.Fatalf("watermark status %d", code)
	}
	return resp.Watermark
}

// cli runs a one-shot oppsync subcommand against the same config.
func (s *oppsyncServer) cli(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(oppsyncBin, append(args, "--config", s.configPath)...)
	cmd.Env = append(os.Environ(), "OPPSYNC_API_KEY="+s.apiKey)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	err := cmd.Run()
	return out.String(), err
}

func (s *oppsyncServer) logContents(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(s.logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
