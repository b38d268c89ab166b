// Package domain contains entity without logic, just meta-data
package domain

import "encoding/json"

// ParticipantID is issued by the relay per connected socket and never reused.
type ParticipantID string

// Signal is an opaque negotiation payload. It is passed through untouched.
type Signal = json.RawMessage

// Credentials are the ephemeral TURN credentials handed out in initInfo.
type Credentials struct {
	ID       string `json:"id"`
	Password string `json:"pwd"`
}

// Empty reports whether no usable credentials were supplied.
func (c *Credentials) Empty() bool {
	return c == nil || c.ID == "" || c.Password == ""
}
