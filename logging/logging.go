// Package logging provides the process-wide structured logger used across
// Spaceway's core components, adapted from the teacher's ubiquitous
// logger.Instance embed.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	rootMu sync.Mutex
	root   = logrus.New()
)

func init() {
	root.SetLevel(logrus.InfoLevel)
	root.SetOutput(os.Stderr)
}

// Init (re)configures the process-wide root logger. Call once at process
// startup; the Engine never calls this itself, its components build their
// Instances from the root logger via MakeInstance.
func Init(level logrus.Level, out io.Writer) {
	rootMu.Lock()
	defer rootMu.Unlock()

	root = logrus.New()
	root.SetLevel(level)
	root.SetOutput(out)
}

// Sync flushes any buffered output. The stdlib logrus writers here are
// unbuffered, but Sync exists so callers have a single, explicit teardown
// point regardless of the configured output.
func Sync() error {
	if f, ok := root.Out.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

// Root returns the process-wide root logger.
func Root() *logrus.Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// Instance is embedded by components that need a scoped logger. It mirrors
// the teacher's logger.Instance: a thin wrapper that lets every component
// log with a consistent field set without reaching for a global.
type Instance struct {
	Log *logrus.Entry
}

// MakeInstance builds an Instance scoped to component, attached to the
// current root logger.
func MakeInstance(component string) Instance {
	return Instance{Log: Root().WithField("component", component)}
}

// With returns a copy of the Instance with an additional field attached.
func (i Instance) With(key string, value interface{}) Instance {
	return Instance{Log: i.Log.WithField(key, value)}
}

// Crit logs at Fatal level. Reserved for Internal invariant violations that
// are meant to be fatal to the engine task (spec error taxonomy).
func (i Instance) Crit(msg string, args ...interface{}) {
	i.Log.Fatal(append([]interface{}{msg}, args...)...)
}
