package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nbexec/internal/config"
	"nbexec/internal/server"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, cfgPath, stdin string, args ...string) result {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath, "--quiet"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func tempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return path
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d", got)
	}
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Errorf("ExitCode(error) = %d", got)
	}
	if got := ExitCode(&ExitError{Code: 3}); got != 3 {
		t.Errorf("ExitCode(ExitError) = %d", got)
	}
}

func TestVersion_JSON(t *testing.T) {
	r := runCLI(t, tempConfig(t, ""), "", "version", "--json")
	if r.err != nil {
		t.Fatalf("version: %v", r.err)
	}
	var info BuildInfo
	if err := json.Unmarshal([]byte(r.stdout), &info); err != nil {
		t.Fatalf("decode: %v (%s)", err, r.stdout)
	}
	if info.Version != Version || info.Contract == "" {
		t.Errorf("info = %+v", info)
	}
	if strings.Join(info.InputFormats, ",") != "csv,xpt,pdf" {
		t.Errorf("input formats = %v", info.InputFormats)
	}
	if !strings.HasPrefix(info.Runtime, "goja") {
		t.Errorf("runtime = %q", info.Runtime)
	}
}

func TestVersion_Text(t *testing.T) {
	r := runCLI(t, tempConfig(t, ""), "", "version")
	if r.err != nil {
		t.Fatalf("version: %v", r.err)
	}
	if !strings.HasPrefix(r.stdout, "nbexec "+Version+" (contract ") {
		t.Errorf("unexpected first line: %q", r.stdout)
	}
	if !strings.Contains(r.stdout, "Inputs:     csv, xpt, pdf") {
		t.Errorf("missing input formats: %q", r.stdout)
	}
}

func TestExec(t *testing.T) {
	cfg := tempConfig(t, "")

	tests := []struct {
		name       string
		stdin      string
		args       []string
		wantOut    string
		wantErrOut string
		wantExit   int
	}{
		{"inline", "", []string{"exec", "-e", "print(1 + 1)"}, "2\n", "", 0},
		{"stdin", "print('from stdin')", []string{"exec", "-"}, "from stdin\n", "", 0},
		{"return value", "", []string{"exec", "-e", "6 * 7"}, "Out: 42\n", "", 0},
		{"fault", "", []string{"exec", "-e", "x = 1 / 0"}, "", "ZeroDivisionError", 1},
		{"empty", "", []string{"exec", "-e", " "}, "", "ValidationError", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runCLI(t, cfg, tt.stdin, tt.args...)
			if got := ExitCode(r.err); got != tt.wantExit {
				t.Fatalf("exit = %d (%v), stderr %q", got, r.err, r.stderr)
			}
			if tt.wantOut != "" && r.stdout != tt.wantOut {
				t.Errorf("stdout = %q, want %q", r.stdout, tt.wantOut)
			}
			if tt.wantErrOut != "" && !strings.Contains(r.stderr, tt.wantErrOut) {
				t.Errorf("stderr = %q, want it to contain %q", r.stderr, tt.wantErrOut)
			}
		})
	}
}

func TestExec_File(t *testing.T) {
	cell := filepath.Join(t.TempDir(), "cell.js")
	if err := os.WriteFile(cell, []byte("print('file')"), 0600); err != nil {
		t.Fatal(err)
	}
	r := runCLI(t, tempConfig(t, ""), "", "exec", cell)
	if r.err != nil || r.stdout != "file\n" {
		t.Errorf("stdout = %q, err = %v", r.stdout, r.err)
	}
}

func TestExec_InvalidFlags(t *testing.T) {
	cfg := tempConfig(t, "")

	r := runCLI(t, cfg, "", "exec", "--hint", "docx", "-e", "x = 1")
	if r.err == nil || !strings.Contains(r.err.Error(), "invalid --hint") {
		t.Errorf("err = %v", r.err)
	}
	r = runCLI(t, cfg, "", "exec", "-e", "x = 1", "cell.js")
	if r.err == nil || !strings.Contains(r.err.Error(), "mutually exclusive") {
		t.Errorf("err = %v", r.err)
	}
}

func TestExec_JSON(t *testing.T) {
	r := runCLI(t, tempConfig(t, ""), "", "exec", "--json", "-e", "print('hi')")
	if r.err != nil {
		t.Fatalf("exec: %v", r.err)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(r.stdout), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["success"] != true || resp["output"] != "hi\n" {
		t.Errorf("resp = %v", resp)
	}
	if _, ok := resp["state"]; ok {
		t.Error("one-shot JSON should not carry state")
	}
}

func TestExec_SessionFile(t *testing.T) {
	cfg := tempConfig(t, "")
	state := filepath.Join(t.TempDir(), "state.json")

	r := runCLI(t, cfg, "", "exec", "--session", state, "-e", "counter = 1")
	if r.err != nil {
		t.Fatalf("first: %v (%s)", r.err, r.stderr)
	}
	r = runCLI(t, cfg, "", "exec", "--session", state, "-e", "counter += 1\nprint(counter)")
	if r.err != nil || r.stdout != "2\n" {
		t.Fatalf("second: stdout %q, err %v", r.stdout, r.err)
	}

	data, err := os.ReadFile(state)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var saved map[string]any
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if saved["counter"] != 2.0 {
		t.Errorf("saved state = %v", saved)
	}
}

func TestExec_Remote(t *testing.T) {
	srv, err := server.NewServer(server.ServerConfig{
		Config: &config.Config{
			Gateway: config.GatewayConfig{Host: "127.0.0.1", ShutdownTimeout: 5 * time.Second, AuthToken: "secret-token"},
			Kernel:  config.KernelConfig{PoolSize: 1, AcquireTimeout: 5 * time.Second},
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	authed := tempConfig(t, "gateway:\n  auth_token: secret-token\n")
	state := filepath.Join(t.TempDir(), "state.json")
	r := runCLI(t, authed, "", "exec", "--server", srv.URL(), "--session", state, "-e", "n = 5\nprint(n * 2)")
	if r.err != nil || r.stdout != "10\n" {
		t.Fatalf("stdout %q, stderr %q, err %v", r.stdout, r.stderr, r.err)
	}
	data, _ := os.ReadFile(state)
	if !strings.Contains(string(data), `"n": 5`) {
		t.Errorf("state file = %s", data)
	}

	r = runCLI(t, tempConfig(t, ""), "", "exec", "--server", srv.URL(), "-e", "1")
	if r.err == nil || !strings.Contains(r.err.Error(), "401") {
		t.Errorf("unauthenticated err = %v", r.err)
	}
}

func TestRepl(t *testing.T) {
	input := strings.Join([]string{
		"a = 1",
		`b = a + 1 \`,
		"  + 1",
		":state",
		"print(b)",
		"undefinedName",
		"print(a)",
		":reset",
		":state",
		":bogus",
		":quit",
		"print('never')",
	}, "\n")

	r := runCLI(t, tempConfig(t, ""), input, "repl")
	if r.err != nil {
		t.Fatalf("repl: %v", r.err)
	}
	want := "a b\n3\n1\nstate cleared\n\n"
	if r.stdout != want {
		t.Errorf("stdout = %q, want %q", r.stdout, want)
	}
	if !strings.Contains(r.stderr, "ReferenceError") {
		t.Errorf("stderr = %q, want ReferenceError", r.stderr)
	}
	if !strings.Contains(r.stderr, "unknown command :bogus") {
		t.Errorf("stderr = %q", r.stderr)
	}
}

func TestRepl_SessionFile(t *testing.T) {
	cfg := tempConfig(t, "")
	state := filepath.Join(t.TempDir(), "state.json")

	if r := runCLI(t, cfg, "x = 40\n", "repl", "--session", state); r.err != nil {
		t.Fatalf("first: %v", r.err)
	}
	r := runCLI(t, cfg, "print(x + 2)\n", "repl", "--session", state)
	if r.err != nil || r.stdout != "42\n" {
		t.Errorf("stdout = %q, err = %v", r.stdout, r.err)
	}
}

func TestInit(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "nested", "config.yaml")

	r := runCLI(t, cfg, "", "init", "--objectstore")
	if r.err != nil {
		t.Fatalf("init: %v", r.err)
	}
	if !strings.Contains(r.stdout, "Initialized nbexec configuration") {
		t.Errorf("stdout = %q", r.stdout)
	}

	r = runCLI(t, cfg, "", "init")
	if r.err == nil || !strings.Contains(r.err.Error(), "already exists") {
		t.Errorf("second init err = %v", r.err)
	}

	r = runCLI(t, cfg, "", "config", "get", "objectstore.enabled")
	if r.err != nil || strings.TrimSpace(r.stdout) != "true" {
		t.Errorf("objectstore.enabled = %q, err %v", r.stdout, r.err)
	}
	r = runCLI(t, cfg, "", "config", "get", "objectstore.secret")
	if len(strings.TrimSpace(r.stdout)) != 64 {
		t.Errorf("secret = %q", r.stdout)
	}
}

func TestConfigCommands(t *testing.T) {
	cfg := tempConfig(t, "gateway:\n  port: 9191\n  auth_token: abcdefgh\n")

	r := runCLI(t, cfg, "", "config", "show")
	if r.err != nil {
		t.Fatalf("show: %v", r.err)
	}
	if !strings.Contains(r.stdout, "port: 9191") || strings.Contains(r.stdout, "abcdefgh") {
		t.Errorf("show = %s", r.stdout)
	}

	r = runCLI(t, cfg, "", "config", "list")
	if !strings.Contains(r.stdout, "gateway.auth_token = ab****gh") {
		t.Errorf("list = %s", r.stdout)
	}

	r = runCLI(t, cfg, "", "config", "path")
	if strings.TrimSpace(r.stdout) != cfg {
		t.Errorf("path = %q", r.stdout)
	}

	r = runCLI(t, cfg, "", "config", "set", "kernel.pool_size", "8")
	if r.err != nil {
		t.Fatalf("set: %v", r.err)
	}
	r = runCLI(t, cfg, "", "config", "get", "kernel.pool_size")
	if strings.TrimSpace(r.stdout) != "8" {
		t.Errorf("pool_size = %q", r.stdout)
	}

	r = runCLI(t, cfg, "", "config", "get", "no.such.key")
	if r.err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestPresign(t *testing.T) {
	r := runCLI(t, tempConfig(t, ""), "", "presign", "k")
	if r.err == nil || !strings.Contains(r.err.Error(), "disabled") {
		t.Errorf("disabled store err = %v", r.err)
	}

	dir := t.TempDir()
	cfg := tempConfig(t, "objectstore:\n  enabled: true\n  path: "+filepath.Join(dir, "objects.db")+"\n  secret: 0123456789abcdef0123\n")
	file := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(file, []byte("a,b\n1,2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	r = runCLI(t, cfg, "", "presign", "--upload", file, "data.csv")
	if r.err != nil {
		t.Fatalf("presign: %v", r.err)
	}
	if !strings.HasPrefix(r.stdout, "http://127.0.0.1:8080/objects/data.csv?token=") {
		t.Errorf("url = %q", r.stdout)
	}
	if !strings.Contains(r.stderr, "Stored data.csv") {
		t.Errorf("stderr = %q", r.stderr)
	}

	r = runCLI(t, cfg, "", "presign", "-m", "delete", "data.csv")
	if r.err == nil {
		t.Error("expected error for DELETE")
	}
}
