package compute

import (
	"sync"
	"sync/atomic"
)

// notifyRegistry maps the ids handed to the driver as callback user data to
// the NotifyFunc of a live context. Ids are never reused, so a callback that
// arrives after its context was released finds nothing.
type notifyRegistry struct {
	seq   atomic.Uintptr
	funcs sync.Map // uintptr -> NotifyFunc
}

var contextNotify notifyRegistry

// register stores fn and returns its id. A nil fn gets id 0.
func (r *notifyRegistry) register(fn NotifyFunc) uintptr {
	if fn == nil {
		return 0
	}
	id := r.seq.Add(1)
	r.funcs.Store(id, fn)
	return id
}

func (r *notifyRegistry) unregister(id uintptr) {
	if id != 0 {
		r.funcs.Delete(id)
	}
}

// dispatch delivers message to the func registered under id and reports
// whether one was found.
func (r *notifyRegistry) dispatch(id uintptr, message string) bool {
	v, ok := r.funcs.Load(id)
	if !ok {
		return false
	}
	v.(NotifyFunc)(message)
	return true
}
