package models

// TrackEventRequest is the body of POST /api/funnel/track. Campaign fields
// may be given at the top level or inside metadata; metadata wins.
type TrackEventRequest struct {
	UserID    string         `json:"userId" binding:"required"`
	Step      string         `json:"step" binding:"required"`
	SessionID string         `json:"sessionId"`
	Source    string         `json:"source"`
	Medium    string         `json:"medium"`
	Campaign  string         `json:"campaign"`
	Device    string         `json:"device"`
	Location  string         `json:"location"`
	Metadata  map[string]any `json:"metadata"`
}
