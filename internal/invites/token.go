package invites

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Event-type keys dispatched by the pipeline.
const (
	EventInviteCreated   = "invite/created"
	EventInviteRetracted = "invite/retracted"
	EventInviteDeclined  = "invite/declined"
)

// ErrDecodeFailure indicates the inbound body was not a well-formed event
// token.
var ErrDecodeFailure = errors.New("invites: malformed event token")

// Event is the decoded invite event payload: validated protocol claims,
// identity attributes, and the per-event-type sub-event map.
type Event struct {
	Issuer     string
	Audience   []string
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
	Events     map[string]json.RawMessage
	Extra      map[string]interface{}
	Raw        string
}

// createdEvent is the sub-event attached under the invite/created key.
type createdEvent struct {
	Role    string            `json:"role"`
	Inviter inviterDescriptor `json:"inviter"`
}

type inviterDescriptor struct {
	Subject string `json:"sub"`
}

// DecodeEvent interprets the raw body as a three-part compact token. The
// signature part is currently not verified; verification is deferred to a
// future introspection call against the provider.
func DecodeEvent(raw string) (*Event, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	issuer, err := claims.GetIssuer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	audience, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	event := &Event{
		Issuer:     issuer,
		Audience:   audience,
		Subject:    subject,
		Email:      stringClaim(claims, "email"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Events:     map[string]json.RawMessage{},
		Extra:      map[string]interface{}{},
		Raw:        raw,
	}

	if embedded, ok := claims["events"].(map[string]interface{}); ok {
		for key, value := range embedded {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
			}
			event.Events[key] = encoded
		}
	}

	for name, value := range claims {
		if name == "events" {
			continue
		}
		event.Extra[name] = value
	}

	return event, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}
