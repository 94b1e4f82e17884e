package domain

import "time"

// ClipPoint is one retained segment of the source media.
type ClipPoint struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns the length of the segment.
func (c ClipPoint) Duration() time.Duration {
	return c.End - c.Start
}
