package domain

import "time"

// Session is a server-side login session. A user may hold any number of
// concurrent sessions. A session is live while ExpirationDate > now; expired
// rows are never returned by the storage layer.
type Session struct {
	ID             string
	UserID         string
	ExpirationDate time.Time
	CreatedAt      time.Time
}
