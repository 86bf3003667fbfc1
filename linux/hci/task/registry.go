package task

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blehost/linux/hci/timer"
)

var (
	// ErrRegistryFull is returned when a registration table has no free slot.
	ErrRegistryFull = errors.New("registry full")
	// ErrReservedRange is returned when registering a built-in event range.
	ErrReservedRange = errors.New("reserved event range")
)

type eventRegistry struct {
	sync.Mutex
	cap int
	m   map[Tag]EventFunc
}

func newEventRegistry(n int) *eventRegistry {
	return &eventRegistry{cap: n, m: make(map[Tag]EventFunc, n)}
}

// set replaces the callback of an existing range, removes it when cb is
// nil, or claims a free slot.
func (r *eventRegistry) set(rng Tag, cb EventFunc) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.m[rng]; ok {
		if cb == nil {
			delete(r.m, rng)
		} else {
			r.m[rng] = cb
		}
		return nil
	}
	if cb == nil {
		return nil
	}
	if len(r.m) >= r.cap {
		return errors.Wrapf(ErrRegistryFull, "event range %v", rng)
	}
	r.m[rng] = cb
	return nil
}

func (r *eventRegistry) get(rng Tag) EventFunc {
	r.Lock()
	defer r.Unlock()
	return r.m[rng]
}

func (r *eventRegistry) len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.m)
}

type timerRegistry struct {
	sync.Mutex
	cap int
	m   map[*timer.Entry]TimerFunc
}

func newTimerRegistry(n int) *timerRegistry {
	return &timerRegistry{cap: n, m: make(map[*timer.Entry]TimerFunc, n)}
}

func (r *timerRegistry) set(e *timer.Entry, cb TimerFunc) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.m[e]; ok || cb == nil {
		if cb == nil {
			delete(r.m, e)
		} else {
			r.m[e] = cb
		}
		return nil
	}
	if len(r.m) >= r.cap {
		return errors.Wrapf(ErrRegistryFull, "timer %v", e)
	}
	r.m[e] = cb
	return nil
}

func (r *timerRegistry) get(e *timer.Entry) TimerFunc {
	r.Lock()
	defer r.Unlock()
	return r.m[e]
}

func (r *timerRegistry) len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.m)
}
