package normalize

import (
	"fmt"

	"github.com/park285/roomlink/internal/event"
)

// Handler consumes events for one concern.
type Handler func(ev event.Event)

// Router fans each event out to at most one handler per concern, in the
// fixed order of event.Ordered.
type Router struct {
	handlers map[event.Concern]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[event.Concern]Handler)}
}

// Register binds h to c. A concern accepts exactly one handler.
func (r *Router) Register(c event.Concern, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", c)
	}
	if _, ok := r.handlers[c]; ok {
		return fmt.Errorf("handler already registered for %s", c)
	}
	r.handlers[c] = h
	return nil
}

func (r *Router) Dispatch(ev event.Event) {
	mask := ev.Concerns()
	for _, c := range event.Ordered {
		if mask&c == 0 {
			continue
		}
		if h, ok := r.handlers[c]; ok {
			h(ev)
		}
	}
}
