package engine

import (
	"sync"

	"github.com/park285/roomlink/internal/bus"
)

// outbox hands messages to the bus from its own goroutine, in the order they
// were queued, so subscribers may call back into the engine.
type outbox struct {
	bus  *bus.Bus
	mu   sync.Mutex
	q    []bus.Message
	shut bool
	wake chan struct{}
	done chan struct{}
}

func newOutbox(b *bus.Bus) *outbox {
	o := &outbox{
		bus:  b,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(m bus.Message) {
	o.mu.Lock()
	if o.shut {
		o.mu.Unlock()
		return
	}
	o.q = append(o.q, m)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// close delivers what is queued and waits for the goroutine to exit.
func (o *outbox) close() {
	o.mu.Lock()
	o.shut = true
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
	<-o.done
}

func (o *outbox) run() {
	defer close(o.done)
	for range o.wake {
		for {
			o.mu.Lock()
			batch := o.q
			o.q = nil
			shut := o.shut
			o.mu.Unlock()
			for _, m := range batch {
				o.bus.Publish(m)
			}
			if len(batch) == 0 {
				if shut {
					return
				}
				break
			}
		}
	}
}
