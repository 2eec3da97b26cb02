package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as a job identifier. ULIDs sort
// by creation time, which keeps history listings in submission order.
func NewID() string {
	return ulid.Make().String()
}

// NewSessionID generates a random identifier for one runner process. Every
// job recorded in history carries the session that produced it.
func NewSessionID() string {
	return uuid.NewString()
}
