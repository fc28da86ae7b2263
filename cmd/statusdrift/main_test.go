package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
)

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), exitCode(err)
}

func writeFile(t *testing.T, path, contents string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitFailure},
		{"coded", withCode(exitUsage, errors.New("bad flag")), exitUsage},
		{"wrapped coded", fmt.Errorf("outer: %w", withCode(exitDB, errors.New("down"))), exitDB},
		{"malformed", importExit(&snapshot.MalformedSourceError{Path: "x.csv", Reason: "no data rows"}), exitValidation},
		{"persistence", importExit(fmt.Errorf("run: %w", &store.PersistenceError{Op: "writing chunk 2", Err: errors.New("reset")})), exitDBWrite},
		{"in progress", importExit(store.ErrImportInProgress), exitDBWrite},
		{"cancelled", importExit(context.Canceled), exitFailure},
		{"other import error", importExit(errors.New("dial tcp: refused")), exitDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("expected exit %d, got %d", tt.want, got)
			}
		})
	}
	if withCode(exitUsage, nil) != nil {
		t.Fatalf("withCode must pass nil through")
	}
}

func TestEndToEndSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "statusdrift.yaml")
	t.Setenv("STATUSDRIFT_DATABASE_DSN", "sqlite://"+filepath.Join(dir, "drift.db"))

	if _, code := run(t, "--config", cfgPath, "init", "--name", "lawley"); code != exitOK {
		t.Fatalf("init exited %d", code)
	}
	if _, code := run(t, "--config", cfgPath, "init", "--name", "lawley"); code != exitUsage {
		t.Fatalf("expected init to refuse overwrite, got %d", code)
	}

	header := "Property ID,Status,Location Address\n"
	first := writeFile(t, filepath.Join(dir, "Lawley_21052025.csv"), header+
		"1001,Home Installation: Installed,1 Oak St\n"+
		"1002,Pole Permission: Approved,2 Oak St\n")
	second := writeFile(t, filepath.Join(dir, "Lawley_22052025.csv"), header+
		"1001,Pole Permission: Pending,1 Oak St\n"+
		"1002,Pole Permission: Approved,2 Oak St\n"+
		",Pole Permission: Pending,3 Oak St\n")

	out, code := run(t, "--config", cfgPath, "import", first, "--format", "json")
	if code != exitOK {
		t.Fatalf("first import exited %d: %s", code, out)
	}
	var decoded struct {
		Status string `json:"status"`
		Counts struct {
			New int `json:"new"`
		} `json:"counts"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid json report: %v\n%s", err, out)
	}
	if decoded.Status != "completed" || decoded.Counts.New != 2 {
		t.Fatalf("unexpected first report: %+v", decoded)
	}

	out, code = run(t, "--config", cfgPath, "import", second, "--format", "markdown")
	if code != exitOK {
		t.Fatalf("second import exited %d: %s", code, out)
	}
	for _, want := range []string{"## Reverts", "| 1001 | Home Installation: Installed | Pole Permission: Pending | critical | 6 |", "| missing business_id | 1 |"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in report:\n%s", want, out)
		}
	}

	out, code = run(t, "--config", cfgPath, "query", "history", "1001")
	if code != exitOK || !strings.Contains(out, "revert") || !strings.Contains(out, "(new)") {
		t.Fatalf("unexpected history (exit %d):\n%s", code, out)
	}

	out, code = run(t, "--config", cfgPath, "query", "record", "1001")
	if code != exitOK || !strings.Contains(out, "Pole Permission: Pending") {
		t.Fatalf("unexpected record (exit %d):\n%s", code, out)
	}

	out, code = run(t, "--config", cfgPath, "query", "batches")
	if code != exitOK || !strings.Contains(out, "Lawley_21052025.csv") || !strings.Contains(out, "Lawley_22052025.csv") {
		t.Fatalf("unexpected batches (exit %d):\n%s", code, out)
	}

	out, code = run(t, "--config", cfgPath, "query", "sql", "SELECT COUNT(*) AS n FROM status_transitions")
	if code != exitOK || !strings.Contains(out, `"n": 3`) {
		t.Fatalf("unexpected sql result (exit %d):\n%s", code, out)
	}
	if _, code := run(t, "--config", cfgPath, "query", "sql", "DELETE FROM current_state"); code != exitUsage {
		t.Fatalf("expected write statement rejected, got %d", code)
	}

	out, code = run(t, "--config", cfgPath, "validate")
	if code != exitOK || !strings.Contains(out, "No issues found.") {
		t.Fatalf("unexpected validate output (exit %d):\n%s", code, out)
	}

	if _, code := run(t, "--config", cfgPath, "batches", "abort", "00000000-0000-0000-0000-000000000000"); code != exitUsage {
		t.Fatalf("expected unknown batch to be a usage error, got %d", code)
	}
}

func TestImportErrors(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STATUSDRIFT_DATABASE_DSN", "sqlite://"+filepath.Join(dir, "drift.db"))
	cfgPath := filepath.Join(dir, "missing.yaml")

	malformed := writeFile(t, filepath.Join(dir, "bad.csv"), "Status\nPole Permission: Pending\n")
	if _, code := run(t, "--config", cfgPath, "import", malformed); code != exitUsage {
		t.Fatalf("expected explicit missing config to be a usage error, got %d", code)
	}

	// without --config a missing project file falls back to defaults
	t.Chdir(dir)
	if _, code := run(t, "import", malformed); code != exitValidation {
		t.Fatalf("expected malformed source exit, got %d", code)
	}
	if _, code := run(t, "import", malformed, "--format", "html"); code != exitUsage {
		t.Fatalf("expected bad format exit, got %d", code)
	}
	if _, code := run(t, "import", malformed, "--snapshot-date", "22/05/2025"); code != exitUsage {
		t.Fatalf("expected bad date exit, got %d", code)
	}
	for _, size := range []string{"1000000", "-5"} {
		if _, code := run(t, "import", malformed, "--chunk-size", size); code != exitUsage {
			t.Fatalf("expected chunk size %s to be a usage error, got %d", size, code)
		}
	}
}

func TestCompareCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	header := "Property ID,Status\n"
	oldPath := writeFile(t, filepath.Join(dir, "old.csv"), header+"1001,Home Sign Ups: Approved\n")
	newPath := writeFile(t, filepath.Join(dir, "new.csv"), header+"1001,Pole Permission: Approved\n")

	out, code := run(t, "compare", oldPath, newPath)
	if code != exitOK {
		t.Fatalf("compare exited %d: %s", code, out)
	}
	if !strings.Contains(out, "(dry run)") || !strings.Contains(out, "Reverts (1)") {
		t.Fatalf("unexpected compare output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "statusdrift.db")); !os.IsNotExist(err) {
		t.Fatalf("compare must not create a database")
	}
}

func TestVersion(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
