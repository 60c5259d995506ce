package server

import (
	"sync"

	"github.com/timingsrc/timingsrc-go/pkg/transport"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

// timingObject is the server-side record for one URL path: its current
// vector, an optional range, and the channels currently subscribed to its
// changes. It lives for the life of the process — no persistence.
type timingObject struct {
	mu          sync.Mutex
	vec         vector.StateVector
	rng         vector.Interval
	subscribers map[*transport.Channel]struct{}
}

func newTimingObject(now float64) *timingObject {
	return &timingObject{
		vec:         vector.At(0, 0, 0, now),
		rng:         vector.Unbounded(),
		subscribers: make(map[*transport.Channel]struct{}),
	}
}

func (o *timingObject) addSubscriber(ch *transport.Channel) {
	o.mu.Lock()
	o.subscribers[ch] = struct{}{}
	o.mu.Unlock()
}

func (o *timingObject) removeSubscriber(ch *transport.Channel) {
	o.mu.Lock()
	delete(o.subscribers, ch)
	o.mu.Unlock()
}

// snapshot returns the extrapolated-to-now vector and every current
// subscriber, without holding the object's lock while sending.
func (o *timingObject) snapshot(now float64) (vector.StateVector, []*transport.Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	subs := make([]*transport.Channel, 0, len(o.subscribers))
	for ch := range o.subscribers {
		subs = append(subs, ch)
	}
	return o.vec.Extrapolate(now), subs
}

// applyUpdate computes the object's next vector from fields (nil meaning
// "keep the extrapolated current value"), clamped to the object's range and
// stamped at now, stores it, and returns it plus the current subscriber
// list.
func (o *timingObject) applyUpdate(position, velocity, acceleration *float64, now float64) (vector.StateVector, []*transport.Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.vec.Extrapolate(now)
	if position != nil {
		next.Position = *position
	}
	if velocity != nil {
		next.Velocity = *velocity
	}
	if acceleration != nil {
		next.Acceleration = *acceleration
	}
	next.Position = o.rng.Clamp(next.Position)
	next.Timestamp = now

	o.vec = next

	subs := make([]*transport.Channel, 0, len(o.subscribers))
	for ch := range o.subscribers {
		subs = append(subs, ch)
	}
	return next, subs
}
