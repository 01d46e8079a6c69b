package e2e

import (
	"os"
	"os/exec"
	"testing"
)

var oppsyncBin string

func TestMain(m *testing.M) {
	oppsyncBin = envOrLookPath("OPPSYNC_BIN", "oppsync")
	os.Exit(m.Run())
}

func envOrLookPath(envVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func requireOppsync(t *testing.T) {
	t.Helper()
	if oppsyncBin == "" {
		t.Skip("oppsync binary not available (set OPPSYNC_BIN or add to PATH)")
	}
}
