package endpoint

import (
	"time"

	"github.com/appnet-org/hudp/pkg/inflight"
)

const retransmitTimerKey = "retransmit"

// startRetransmitter schedules the periodic tick that scans the in-flight
// table at the fixed cadence spec.md §4.2 mandates. It runs for the
// endpoint's lifetime; Stop tears it down via e.timers.Stop.
func (e *Endpoint) startRetransmitter() {
	e.timers.SchedulePeriodic(retransmitTimerKey, inflight.RetxInterval, func() {
		e.inflight.Tick(time.Now())
	})
}

// RetransmitterLastTick reports when the retransmit scan last ran, and
// whether it has run at all yet. A gap much larger than
// inflight.RetxInterval indicates the timer goroutine died or was never
// started.
func (e *Endpoint) RetransmitterLastTick() (time.Time, bool) {
	return e.timers.LastFire(retransmitTimerKey)
}
