// Package testlogger builds loggers whose output is attached to the running
// test.
package testlogger

import (
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/celo-org/snark-setup-coordinator/log"
)

// EnvLevel names the variable selecting the level of test logs, e.g.
// COORDINATOR_TEST_LOGS=debug. Without it only warnings and errors show up.
const EnvLevel = "COORDINATOR_TEST_LOGS"

// Level returns the level test loggers print at.
func Level(t testing.TB) int {
	name, ok := os.LookupEnv(EnvLevel)
	if !ok || name == "" {
		return log.WarnLevel
	}
	return log.ParseLevel(strings.ToLower(name))
}

// New returns a console logger writing through t.Log, so lines only show up
// for failing or verbose tests.
func New(t testing.TB) log.Logger {
	w := &writer{t: t}
	t.Cleanup(w.close)
	return log.New(w, Level(t), false).With("test", t.Name())
}

// writer drops lines emitted once the test is over; servers and workers
// started by a test may still log while shutting down.
type writer struct {
	sync.Mutex
	t    testing.TB
	done bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.Lock()
	defer w.Unlock()
	if !w.done {
		w.t.Helper()
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

func (w *writer) Sync() error { return nil }

func (w *writer) close() {
	w.Lock()
	w.done = true
	w.Unlock()
}
