package auth

import "github.com/golang-jwt/jwt/v5"

// VoiceClaims is the payload of a Twilio Voice access token.
// iss is the API key sid and sub the account sid.
type VoiceClaims struct {
	jwt.RegisteredClaims

	Grants Grants `json:"grants"`
}

type Grants struct {
	Identity string      `json:"identity,omitempty"`
	Voice    *VoiceGrant `json:"voice,omitempty"`
}

type VoiceGrant struct {
	Incoming *IncomingGrant `json:"incoming,omitempty"`
	Outgoing *OutgoingGrant `json:"outgoing,omitempty"`
}

type IncomingGrant struct {
	Allow bool `json:"allow"`
}

type OutgoingGrant struct {
	ApplicationSid string            `json:"application_sid"`
	Params         map[string]string `json:"params,omitempty"`
}
