package identity

import (
	"encoding/json"
	"fmt"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
	"go.uber.org/zap"
)

// ClaimAttributePrefix namespaces assertion-derived attributes copied onto
// an account by the merger.
const ClaimAttributePrefix = "claim-"

// reservedClaims are protocol claims never copied as account attributes.
var reservedClaims = map[string]struct{}{
	"iss":       {},
	"sub":       {},
	"aud":       {},
	"exp":       {},
	"iat":       {},
	"jti":       {},
	"auth_time": {},
	"nonce":     {},
	"acr":       {},
	"amr":       {},
	"azp":       {},
}

// Assertion is the typed envelope of an identity assertion: named fields for
// the identity attributes this core reads, plus an open mapping for
// arbitrary extension claims.
type Assertion struct {
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
	Extra      map[string]interface{}
}

// Merger copies assertion attributes onto local accounts. All writes are
// best-effort side effects; failures are logged and never escalated to the
// caller.
type Merger struct {
	store  *accounts.Store
	logger *zap.Logger
}

// NewMerger constructs a claim merger.
func NewMerger(store *accounts.Store, logger *zap.Logger) (*Merger, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: account store required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, logger: logger}, nil
}

// ApplyExtraClaims stores every non-reserved claim as a namespaced account
// attribute.
func (m *Merger) ApplyExtraClaims(accountID string, claims map[string]interface{}) {
	for name, value := range claims {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		encoded, err := encodeClaimValue(value)
		if err != nil {
			m.logger.Warn("skipping unencodable claim",
				zap.String("account_id", accountID),
				zap.String("claim", name),
				zap.Error(err))
			continue
		}
		if err := m.store.SetAttribute(accountID, ClaimAttributePrefix+name, encoded); err != nil {
			m.logger.Warn("failed to store claim attribute",
				zap.String("account_id", accountID),
				zap.String("claim", name),
				zap.Error(err))
		}
	}
}

// ReconcileIdentityAttributes writes name claims onto the account only when
// the account fields are empty, and actively reconciles the contact address
// to the asserted value. The address is the account-matching key, so it must
// stay authoritative.
func (m *Merger) ReconcileIdentityAttributes(account accounts.Account, assertion Assertion) {
	updates := map[string]interface{}{}
	if account.GivenName == "" && assertion.GivenName != "" {
		updates["given_name"] = assertion.GivenName
	}
	if account.FamilyName == "" && assertion.FamilyName != "" {
		updates["family_name"] = assertion.FamilyName
	}
	if assertion.Email != "" && assertion.Email != account.Email {
		updates["email"] = assertion.Email
	}
	if len(updates) == 0 {
		return
	}
	if err := m.store.UpdateFields(account.ID, updates); err != nil {
		m.logger.Warn("failed to reconcile identity attributes",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}
}

func encodeClaimValue(value interface{}) (string, error) {
	if text, ok := value.(string); ok {
		return text, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
