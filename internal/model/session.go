package model

// SessionRecord is the persisted form of a session. Sessions survive
// process restarts so they can be correlated with process-exit reasons.
type SessionRecord struct {
	ID            string
	CreatedAt     int64
	LastEventTime int64
	PID           int
	AppVersion    string
	AppBuild      string
	Crashed       bool
}

// RecentSession is the lightweight session snapshot kept in the prefs
// store, consulted on startup to decide whether the previous session can
// be resumed.
type RecentSession struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"created_at"`
	LastEventTime int64  `json:"last_event_time"`
	Crashed       bool   `json:"crashed"`
	AppVersion    string `json:"app_version"`
	AppBuild      string `json:"app_build"`
}
