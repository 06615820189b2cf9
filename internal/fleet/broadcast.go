// fleetwatch is a multi-process game-server supervisor.
// Copyright (C) 2026 The fleetwatch authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fleet

import (
	"sync"

	"github.com/sturdyfool10/fleetwatch/internal/metrics"
)

// broadcastCapacity bounds each subscriber's ring; console frames are
// lossy by design, so a full ring drops its oldest entry rather than
// blocking the publisher (spec.md section 5).
const broadcastCapacity = 100

// Broadcaster is a multi-producer, multi-subscriber fan-out of arbitrary
// frame values (typically one of the models.*Frame types). Each subscriber
// holds its own bounded channel; a slow subscriber drops its oldest
// buffered frame rather than stalling the publisher.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one outbound pump's view of the broadcast channel.
type Subscription struct {
	ch chan any
	b  *Broadcaster
}

// NewBroadcaster returns an empty broadcast hub.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber. Callers must call Unsubscribe when
// done (typically via defer) to release the channel.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan any, broadcastCapacity), b: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the fan-out set.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish fans frame out to every current subscriber, dropping the oldest
// buffered frame for any subscriber whose ring is full.
func (b *Broadcaster) Publish(frame any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
			select {
			case <-sub.ch:
				metrics.IncBroadcastDrop()
			default:
			}
			select {
			case sub.ch <- frame:
			default:
			}
		}
	}
}

// C returns the channel to range/select over for received frames.
func (s *Subscription) C() <-chan any { return s.ch }
