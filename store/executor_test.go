package store

import (
	"strings"
	"testing"
)

// recordingAppender and recordingEnqueuer capture every line handed to
// them, so tests can assert on exactly what the executor persists and
// replicates without standing up a real AOF file or replication socket.
type recordingAppender struct{ lines []string }

func (r *recordingAppender) Append(line string) error {
	r.lines = append(r.lines, line)
	return nil
}

type recordingEnqueuer struct{ lines []string }

func (r *recordingEnqueuer) Enqueue(line string) { r.lines = append(r.lines, line) }

type recordingSaver struct{ calls int }

func (r *recordingSaver) Save() error { r.calls++; return nil }

func newTestExecutor(t *testing.T) (*Executor, *recordingAppender, *recordingEnqueuer, *recordingSaver) {
	t.Helper()
	ks, err := NewKeyspace()
	if err != nil {
		t.Fatalf("NewKeyspace: %v", err)
	}
	t.Cleanup(func() { ks.Close() })
	persist := &recordingAppender{}
	repl := &recordingEnqueuer{}
	saver := &recordingSaver{}
	return NewExecutor(ks, persist, repl, saver), persist, repl, saver
}

func TestExecutorSetGetReplicatesAndPersists(t *testing.T) {
	exec, persist, repl, _ := newTestExecutor(t)

	if got := exec.Dispatch("SET name redis-clone", ExecOptions{}); got != "OK\n" {
		t.Fatalf("SET reply = %q, want OK\\n", got)
	}
	if got := exec.Dispatch("GET name", ExecOptions{}); got != "redis-clone\n" {
		t.Fatalf("GET reply = %q", got)
	}
	if len(persist.lines) != 1 || persist.lines[0] != "SET name redis-clone" {
		t.Fatalf("persisted lines = %v", persist.lines)
	}
	if len(repl.lines) != 1 || repl.lines[0] != "SET name redis-clone" {
		t.Fatalf("replicated lines = %v", repl.lines)
	}
	// GET is a read, it must not be persisted or replicated again.
	if got := exec.Dispatch("GET name", ExecOptions{}); got != "redis-clone\n" {
		t.Fatalf("second GET reply = %q", got)
	}
	if len(persist.lines) != 1 || len(repl.lines) != 1 {
		t.Fatalf("GET must not append to persist/repl, got persist=%v repl=%v", persist.lines, repl.lines)
	}
}

func TestExecutorSuppressSkipsPersistAndReplication(t *testing.T) {
	exec, persist, repl, _ := newTestExecutor(t)

	exec.Dispatch("SET k v", ExecOptions{Suppress: true})
	if len(persist.lines) != 0 || len(repl.lines) != 0 {
		t.Fatalf("suppressed write leaked into persist/repl: persist=%v repl=%v", persist.lines, repl.lines)
	}
	if got := exec.Dispatch("GET k", ExecOptions{}); got != "v\n" {
		t.Fatalf("GET after suppressed SET = %q, want v\\n", got)
	}
}

func TestExecutorSetWithTTL(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	if got := exec.Dispatch("SET session abc EX 10", ExecOptions{}); got != "OK\n" {
		t.Fatalf("SET ... EX reply = %q", got)
	}
	if got := exec.Dispatch("SET session abc EX -1", ExecOptions{}); got != "Invalid TTL value\n" {
		t.Fatalf("SET with negative TTL = %q", got)
	}
}

func TestExecutorIncrMissingKeyReportsZeroWithoutWrite(t *testing.T) {
	exec, persist, _, _ := newTestExecutor(t)
	if got := exec.Dispatch("INCR counter", ExecOptions{}); got != "0\n" {
		t.Fatalf("INCR on missing key = %q, want 0\\n", got)
	}
	if len(persist.lines) != 0 {
		t.Fatalf("INCR on a missing key must not be persisted, got %v", persist.lines)
	}
	if got := exec.Dispatch("GET counter", ExecOptions{}); got != "nil\n" {
		t.Fatalf("GET after INCR-on-missing = %q, want nil (no key created)", got)
	}
}

func TestExecutorIncrNotAnInteger(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	exec.Dispatch("SET k not-a-number", ExecOptions{})
	if got := exec.Dispatch("INCR k", ExecOptions{}); got != "ERROR: Value is not an integer\n" {
		t.Fatalf("INCR on non-integer = %q", got)
	}
}

func TestExecutorListCommands(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	exec.Dispatch("RPUSH list a b", ExecOptions{})
	exec.Dispatch("LPUSH list z", ExecOptions{})

	if got := exec.Dispatch("LRANGE list 0 -1", ExecOptions{}); got != strings.Join([]string{"z", "a", "b"}, " ")+"\n" {
		t.Fatalf("LRANGE = %q", got)
	}
	if got := exec.Dispatch("LPOP list", ExecOptions{}); got != "z\n" {
		t.Fatalf("LPOP = %q", got)
	}
	if got := exec.Dispatch("RPOP list", ExecOptions{}); got != "b\n" {
		t.Fatalf("RPOP = %q", got)
	}
}

func TestExecutorSaveInvokesSaver(t *testing.T) {
	exec, _, _, saver := newTestExecutor(t)
	if got := exec.Dispatch("SAVE", ExecOptions{}); got != "Data saved to snapshot file\n" {
		t.Fatalf("SAVE reply = %q", got)
	}
	if saver.calls != 1 {
		t.Fatalf("saver.calls = %d, want 1", saver.calls)
	}
}

func TestExecutorInvalidCommand(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	if got := exec.Dispatch("FROBNICATE", ExecOptions{}); got != "Invalid command\n" {
		t.Fatalf("unknown verb reply = %q", got)
	}
}
