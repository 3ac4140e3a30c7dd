package model

import "time"

// SyncTrigger is the optional body of a manual sync request.
type SyncTrigger struct {
	Since string `json:"since"`
}

// SinceTime parses Since; an empty value gives the zero time.
func (s *SyncTrigger) SinceTime() time.Time {
	if s.Since == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.Since)
	return t
}
