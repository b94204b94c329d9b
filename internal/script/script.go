// Package script runs named console scripts against an appliance and prints
// every round trip as it happens. Scripts register themselves at init time,
// the way database drivers do.
package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sshcollectorpro/asaconsole/pkg/asa"
)

// ErrUnknownScript is returned by Runner.Run for a name nobody registered.
var ErrUnknownScript = errors.New("unknown script")

// Func is a script body. It owns the console for the duration of the call,
// including connecting it.
type Func func(ctx context.Context, s *Script, c *asa.Console) error

// Definition is a registered script.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Func        Func   `json:"-"`
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Definition)
)

// Register adds a script. It panics if name is empty or already taken.
func Register(name, description string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" || fn == nil {
		panic("script: Register needs a name and a func")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("script: Register called twice for %q", name))
	}
	registry[name] = Definition{Name: name, Description: description, Func: fn}
}

// Lookup returns the script registered as name.
func Lookup(name string) (Definition, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[name]
	return d, ok
}

// Names lists every registered script, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions lists every registered script, sorted by name.
func Definitions() []Definition {
	names := Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		d, _ := Lookup(name)
		defs = append(defs, d)
	}
	return defs
}

// Script is the handle a running script reports through.
type Script struct {
	name string
	out  *printer
	logs []string
}

func (s *Script) Name() string { return s.name }

// Log prints a status line and keeps it in the run result.
func (s *Script) Log(text string) {
	s.logs = append(s.logs, text)
	s.out.line(styleLog, text)
}

func (s *Script) Logf(format string, args ...interface{}) {
	s.Log(fmt.Sprintf(format, args...))
}
