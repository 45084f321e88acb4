package delivery

import (
	"time"
)

// Snapshot is one observation of a transfer in progress
type Snapshot struct {
	BytesTransferred int64         `json:"bytesTransferred"`
	TotalBytes       int64         `json:"totalBytes"` // -1 when unknown
	Elapsed          time.Duration `json:"elapsed"`
	Percent          float64       `json:"percent"`    // -1 when indeterminate
	Throughput       float64       `json:"throughput"` // bytes per second since the previous snapshot
	Remaining        time.Duration `json:"remaining"`  // -1 when unknown
	Done             bool          `json:"done"`
	Err              error         `json:"-"`
}

// Indeterminate reports whether the total size is unknown
func (s Snapshot) Indeterminate() bool {
	return s.Percent < 0
}

// Tracker turns a running byte count into snapshots
type Tracker struct {
	total       int64
	transferred int64
	start       time.Time
	lastAt      time.Time
	lastBytes   int64
	lastPercent float64
	now         func() time.Time
}

// NewTracker creates a tracker for a transfer of total bytes; total < 0 means unknown
func NewTracker(total int64, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if total < 0 {
		total = -1
	}
	start := now()
	return &Tracker{total: total, start: start, lastAt: start, now: now}
}

// Add records n more bytes and returns the new snapshot
func (t *Tracker) Add(n int) Snapshot {
	t.transferred += int64(n)
	return t.snapshot(false)
}

// Finish returns the final snapshot. Once the transfer completed the size is
// known, so the percentage is always 100.
func (t *Tracker) Finish() Snapshot {
	s := t.snapshot(true)
	s.Percent = 100
	s.Remaining = 0
	if s.TotalBytes < 0 {
		s.TotalBytes = t.transferred
	}
	return s
}

// Fail returns a terminal snapshot carrying err
func (t *Tracker) Fail(err error) Snapshot {
	s := t.snapshot(true)
	s.Err = err
	return s
}

// Transferred returns the byte count so far
func (t *Tracker) Transferred() int64 {
	return t.transferred
}

func (t *Tracker) snapshot(done bool) Snapshot {
	now := t.now()
	s := Snapshot{
		BytesTransferred: t.transferred,
		TotalBytes:       t.total,
		Elapsed:          now.Sub(t.start),
		Percent:          -1,
		Remaining:        -1,
		Done:             done,
	}

	if dt := now.Sub(t.lastAt).Seconds(); dt > 0 {
		s.Throughput = float64(t.transferred-t.lastBytes) / dt
	} else if elapsed := s.Elapsed.Seconds(); elapsed > 0 {
		s.Throughput = float64(t.transferred) / elapsed
	}
	t.lastAt, t.lastBytes = now, t.transferred

	if t.total > 0 {
		p := float64(t.transferred) / float64(t.total) * 100
		if p > 100 {
			p = 100
		}
		// percentages never move backwards
		if p < t.lastPercent {
			p = t.lastPercent
		}
		t.lastPercent = p
		s.Percent = p

		if s.Throughput > 0 {
			left := t.total - t.transferred
			if left < 0 {
				left = 0
			}
			s.Remaining = time.Duration(float64(left) / s.Throughput * float64(time.Second))
		}
	} else if t.total == 0 {
		s.Percent = 100
		s.Remaining = 0
	}
	return s
}
