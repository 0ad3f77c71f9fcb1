package observable

import (
	"sync"
)

// Value is a piece of state that notifies subscribers whenever it changes.
//
// Subscribers are called synchronously, in subscription order, on the
// goroutine that changed the value. Notifications of consecutive changes are
// never interleaved. A subscriber must not Set the value it observes.
type Value[T comparable] struct {
	mutex       sync.Mutex
	notifyMutex sync.Mutex
	value       T
	nextId      int
	subscribers map[int]func(T)
	order       []int
}

func New[T comparable](initial T) *Value[T] {
	return &Value[T]{
		value:       initial,
		subscribers: map[int]func(T){},
	}
}

func (v *Value[T]) Get() T {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.value
}

// Set updates the value, subscribers are only notified when it differs from
// the current one.
func (v *Value[T]) Set(value T) {
	v.notifyMutex.Lock()
	defer v.notifyMutex.Unlock()

	v.mutex.Lock()
	if v.value == value {
		v.mutex.Unlock()
		return
	}
	v.value = value
	callbacks := v.callbacks()
	v.mutex.Unlock()

	for _, cb := range callbacks {
		cb(value)
	}
}

func (v *Value[T]) callbacks() []func(T) {
	out := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.subscribers[id])
	}
	return out
}

// Subscribe calls `fn` with the current value and then with every change
// until the returned function is called.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.notifyMutex.Lock()
	defer v.notifyMutex.Unlock()

	v.mutex.Lock()
	id := v.nextId
	v.nextId++
	v.subscribers[id] = fn
	v.order = append(v.order, id)
	current := v.value
	v.mutex.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mutex.Lock()
			defer v.mutex.Unlock()
			delete(v.subscribers, id)
			for i, existing := range v.order {
				if existing == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}

// And returns a value that is true only while every input is true. The
// result follows its inputs for as long as they exist.
func And(inputs ...*Value[bool]) *Value[bool] {
	compute := func() bool {
		for _, in := range inputs {
			if !in.Get() {
				return false
			}
		}
		return true
	}

	out := New(compute())
	for _, in := range inputs {
		in.Subscribe(func(bool) {
			out.Set(compute())
		})
	}
	return out
}
