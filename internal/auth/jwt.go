package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	contentTypeHeader = "cty"
	twilioContentType = "twilio-fpa;v=1"

	// MaxVoiceTokenTTL is the longest lifetime Twilio accepts.
	MaxVoiceTokenTTL = 24 * time.Hour
)

var ErrInvalidVoiceToken = errors.New("auth: invalid voice token request")

// VoiceTokenRequest carries the per-device credentials. Nothing is read from
// process-wide config.
type VoiceTokenRequest struct {
	AccountSid  string
	APIKey      string
	APISecret   string
	TwimlAppSid string
	Identity    string
}

func (r VoiceTokenRequest) validate() error {
	switch {
	case r.AccountSid == "":
		return fmt.Errorf("%w: account sid required", ErrInvalidVoiceToken)
	case r.APIKey == "" || r.APISecret == "":
		return fmt.Errorf("%w: api key and secret required", ErrInvalidVoiceToken)
	case r.TwimlAppSid == "":
		return fmt.Errorf("%w: twiml app sid required", ErrInvalidVoiceToken)
	case r.Identity == "":
		return fmt.Errorf("%w: identity required", ErrInvalidVoiceToken)
	}
	return nil
}

// VoiceTokenIssuer signs Twilio Voice access tokens for browser devices.
type VoiceTokenIssuer struct {
	ttl time.Duration
	Now func() time.Time
}

func NewVoiceTokenIssuer(ttl time.Duration) *VoiceTokenIssuer {
	if ttl <= 0 || ttl > MaxVoiceTokenTTL {
		ttl = time.Hour
	}
	return &VoiceTokenIssuer{ttl: ttl, Now: time.Now}
}

// Issue returns a signed token granting incoming calls to the identity and
// outgoing calls through the TwiML app.
func (i *VoiceTokenIssuer) Issue(req VoiceTokenRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	now := i.Now()

	claims := VoiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        req.APIKey + "-" + strconv.FormatInt(now.Unix(), 10),
			Issuer:    req.APIKey,
			Subject:   req.AccountSid,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Grants: Grants{
			Identity: req.Identity,
			Voice: &VoiceGrant{
				Incoming: &IncomingGrant{Allow: true},
				Outgoing: &OutgoingGrant{ApplicationSid: req.TwimlAppSid},
			},
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header[contentTypeHeader] = twilioContentType
	return t.SignedString([]byte(req.APISecret))
}

// Verify parses a token signed with apiSecret and checks its lifetime.
func (i *VoiceTokenIssuer) Verify(tokenString, apiSecret string) (VoiceClaims, error) {
	var claims VoiceClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.Now),
		jwt.WithLeeway(30*time.Second),
	)
	tok, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return []byte(apiSecret), nil
	})
	if err != nil {
		return VoiceClaims{}, err
	}
	if cty, _ := tok.Header[contentTypeHeader].(string); cty != twilioContentType {
		return VoiceClaims{}, errors.New("auth: not a twilio access token")
	}
	if claims.Grants.Identity == "" {
		return VoiceClaims{}, errors.New("auth: identity grant missing")
	}
	return claims, nil
}
