package kmsink

import "time"

const (
	// vsyncGuard is how close to the predicted vblank a one-field
	// frame may be submitted before an extra repeat is scheduled to
	// keep field parity stable.
	vsyncGuard = 2500 * time.Microsecond

	// driftWindow bounds how far the vblank cadence and the incoming
	// timestamps may drift from the nominal frame duration before
	// correction falls back to the timestamp delta.
	driftWindow = 2 * time.Millisecond
)

// fieldTiming tracks observed vblank instants and corrected
// timestamps across frames.
type fieldTiming struct {
	lastVBlank     time.Time
	prevLastVBlank time.Time

	lastInputPTS  time.Duration
	lastOutputPTS time.Duration
}

func (t *fieldTiming) reset() {
	t.lastVBlank = time.Time{}
	t.prevLastVBlank = time.Time{}
	t.lastInputPTS = TimeNone
	t.lastOutputPTS = TimeNone
}

func (t *fieldTiming) recordVBlank(now time.Time) {
	if !t.lastVBlank.IsZero() {
		t.prevLastVBlank = t.lastVBlank
	}
	t.lastVBlank = now
}

// nextVsyncIn predicts how long until the next vblank, assuming one
// vblank per frame of the given duration. Zero means no prediction.
func (t *fieldTiming) nextVsyncIn(now time.Time, frameDuration time.Duration) time.Duration {
	if t.lastVBlank.IsZero() || frameDuration == TimeNone || frameDuration <= 0 {
		return 0
	}
	diff := now.Sub(t.lastVBlank)
	if diff < frameDuration {
		return frameDuration - diff
	}
	return 0
}

// correct rewrites pts so consecutive output timestamps follow the
// vblank cadence while the input stays within driftWindow of the
// nominal duration, and follow the input deltas otherwise. Repeated
// input timestamps pass through untouched.
func (t *fieldTiming) correct(pts, duration time.Duration) time.Duration {
	if pts == TimeNone || t.lastOutputPTS == pts {
		return pts
	}

	start := pts
	if !t.prevLastVBlank.IsZero() && t.lastOutputPTS != TimeNone {
		vblankDiff := t.lastVBlank.Sub(t.prevLastVBlank)
		tsDiff := pts - t.lastInputPTS

		vblankDrift := time.Duration(1<<63 - 1)
		tsDrift := vblankDrift
		if duration != TimeNone {
			vblankDrift = absDuration(duration - vblankDiff)
			tsDrift = absDuration(duration - tsDiff)
		}

		if tsDrift < driftWindow && vblankDrift < driftWindow {
			start = t.lastOutputPTS + vblankDiff
		} else {
			if tsDrift > driftWindow {
				t.lastVBlank = time.Time{}
				t.prevLastVBlank = time.Time{}
			}
			start = t.lastOutputPTS + tsDiff
		}
	}

	t.lastInputPTS = pts
	t.lastOutputPTS = start
	return start
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
