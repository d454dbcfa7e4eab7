// Package local is an in-memory deviceview.View: a mutex-guarded map of
// named signal values, for tests and single-process deployments.
package local

import "sync"

type View struct {
	mu     sync.Mutex
	values map[string]float64
}

func New() *View {
	return &View{values: make(map[string]float64)}
}

func (v *View) Get(name string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.values[name]
	return val, ok
}

func (v *View) Set(name string, value float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[name] = value
}
