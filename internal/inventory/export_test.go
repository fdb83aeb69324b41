package inventory

import "time"

// SetClock pins the time GormLedger stamps on writes.
func (l *GormLedger) SetClock(now func() time.Time) { l.nowFunc = now }
