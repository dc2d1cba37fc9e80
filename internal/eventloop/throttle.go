package eventloop

import "time"

// throttle bounds emissions to limit per window. Each attempt is recorded
// whether or not it is admitted. When the recent history reaches limit the
// caller sleeps for window times the history length; if the history was
// already over the limit before this attempt the emission is dropped.
type throttle struct {
	limit  int
	window time.Duration
	ticks  []time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func newThrottle(limit int, window time.Duration) *throttle {
	return &throttle{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// admit records an attempt and reports whether it may be emitted. The second
// result is the back-off that was applied.
func (t *throttle) admit() (bool, time.Duration) {
	now := t.now()

	expired := 0
	for expired < len(t.ticks) && now.Sub(t.ticks[expired]) >= t.window {
		expired++
	}
	t.ticks = append(t.ticks[:0], t.ticks[expired:]...)
	t.ticks = append(t.ticks, now)

	if len(t.ticks) < t.limit {
		return true, 0
	}
	backoff := t.window * time.Duration(len(t.ticks))
	t.sleep(backoff)
	return len(t.ticks)-1 < t.limit, backoff
}
