// Package domain contains entities without logic, just meta-data
package domain

import (
	"maunium.net/go/mautrix/id"
)

type (
	UserID   = id.UserID
	DeviceID = id.DeviceID
)

// Session is the credential triple needed to resume a protocol connection.
type Session struct {
	UserID      UserID   `json:"user_id" yaml:"user_id"`
	AccessToken string   `json:"access_token" yaml:"access_token"`
	DeviceID    DeviceID `json:"device_id" yaml:"device_id"`
}

// Complete reports whether every field needed for a restore is present.
func (s Session) Complete() bool {
	return s.UserID != "" && s.AccessToken != "" && s.DeviceID != ""
}
