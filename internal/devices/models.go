// Package devices keeps the browser voice device registered for each provider
// number: its credentials, current access token and presence.
package devices

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("devices: not found")
	ErrInvalidArgument = errors.New("devices: invalid argument")
)

type Presence string

const (
	PresenceActive   Presence = "active"
	PresenceInactive Presence = "inactive"
)

func (p Presence) Valid() bool { return p == PresenceActive || p == PresenceInactive }

// DeviceIdentity is keyed by CallerID, the provider number the device answers for.
type DeviceIdentity struct {
	CallerID           string    `json:"callerId" db:"caller_id"`
	Identity           string    `json:"identity" db:"identity"`
	AccountSid         string    `json:"accountSid" db:"account_sid"`
	TwimlAppSid        string    `json:"twimlAppSid" db:"twiml_app_sid"`
	APIKey             string    `json:"apiKey" db:"api_key"`
	APISecret          string    `json:"-" db:"api_secret"`
	Token              string    `json:"-" db:"token"`
	Presence           Presence  `json:"presence" db:"presence"`
	UnavailableMessage string    `json:"unavailableMessage,omitempty" db:"unavailable_message"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

// Available reports whether inbound calls may ring the device.
func (d DeviceIdentity) Available() bool { return d.Presence != PresenceInactive }
