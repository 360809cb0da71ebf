package receiver

import "time"

// deadline is a one-shot timer whose firing is only honoured if it has not
// been stopped or re-armed since. The generation travels with the event.
type deadline struct {
	timer *time.Timer
	gen   uint64
}

func (d *deadline) arm(after time.Duration, fire func(gen uint64)) {
	d.stop()
	gen := d.gen
	d.timer = time.AfterFunc(after, func() { fire(gen) })
}

func (d *deadline) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// current reports whether an event armed at gen is still live.
func (d *deadline) current(gen uint64) bool {
	return d.timer != nil && gen == d.gen
}

// throttle coalesces progress broadcasts: at most one per interval, with a
// single deferred broadcast covering everything requested in between.
type throttle struct {
	interval time.Duration
	last     time.Time
	timer    *time.Timer
}

func (t *throttle) pending() bool {
	return t.timer != nil
}

// wait returns how long a broadcast requested at now has to be deferred.
func (t *throttle) wait(now time.Time) time.Duration {
	if w := t.interval - now.Sub(t.last); w > 0 {
		return w
	}
	return 0
}

// fired forgets the deferred broadcast whose timer just went off.
func (t *throttle) fired() {
	t.timer = nil
}

func (t *throttle) schedule(after time.Duration, fire func()) {
	t.timer = time.AfterFunc(after, fire)
}

// sent records a broadcast at now and drops any deferred one, which the
// broadcast just made redundant.
func (t *throttle) sent(now time.Time) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.last = now
}
