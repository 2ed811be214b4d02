package invites

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
	"github.com/CobaltCoveLabs/lanyard/internal/authz"
	"github.com/CobaltCoveLabs/lanyard/internal/identity"
	"go.uber.org/zap"
)

// MaxEventBytes bounds the accepted event body size.
const MaxEventBytes = 1 << 20

// Attribute keys persisted on accounts touched by invite handling.
const (
	AttributeInviteCreated = "invite_created"
	AttributeLastToken     = "last-token"
)

const eventContentType = "application/json"

var (
	errMethodNotAllowed   = errors.New("invites: method not allowed")
	errLengthRequired     = errors.New("invites: content length required")
	errPayloadTooLarge    = errors.New("invites: event body exceeds limit")
	errWrongContentType   = errors.New("invites: content type must be application/json")
	errIssuerMismatch     = errors.New("invites: issuer does not match provider")
	errAudienceMismatch   = errors.New("invites: audience does not match client id")
	errUnknownRole        = errors.New("invites: requested role is not known")
	errInviterNotFound    = errors.New("invites: inviter account not found")
	errInviterCannotGrant = errors.New("invites: inviter lacks account creation capability")
	errInviterCannotRaise = errors.New("invites: inviter lacks promotion capability")
	errMalformedSubEvent  = errors.New("invites: malformed created sub-event")
)

// Envelope carries the transport facts the pipeline validates before any
// decode attempt.
type Envelope struct {
	Method        string
	ContentLength int64
	ContentType   string
}

// ValidateEnvelope is the first pipeline step: a write-style method, a
// declared body length within bounds, and an exact JSON content type.
func ValidateEnvelope(env Envelope) error {
	if env.Method != http.MethodPost && env.Method != http.MethodPut {
		return fail(FailureMethodNotAllowed, errMethodNotAllowed)
	}
	if env.ContentLength < 0 {
		return fail(FailureLengthRequired, errLengthRequired)
	}
	if env.ContentLength > MaxEventBytes {
		return fail(FailurePayloadTooLarge, errPayloadTooLarge)
	}
	mediaType, _, err := mime.ParseMediaType(env.ContentType)
	if err != nil || mediaType != eventContentType {
		return fail(FailureBadRequest, errWrongContentType)
	}
	return nil
}

// Authorizer answers capability questions about resolved accounts.
type Authorizer interface {
	AccountHasCapability(account accounts.Account, capability string) bool
}

// RoleRegistry exposes the deployment's fixed role set.
type RoleRegistry interface {
	Known(role string) bool
	DefaultRole() string
}

// Config carries the claim expectations for inbound event tokens.
type Config struct {
	// Issuer is the provider issuer URI every event must assert.
	Issuer string
	// ClientID is this deployment's registered client identifier.
	ClientID string
}

// PipelineConfig describes the dependencies of the invite event pipeline.
type PipelineConfig struct {
	Config      Config
	Directory   *identity.Directory
	Provisioner *identity.Provisioner
	Merger      *identity.Merger
	Store       *accounts.Store
	Authorizer  Authorizer
	Roles       RoleRegistry
	Logger      *zap.Logger
}

// Pipeline validates, decodes, and dispatches inbound invite events. Each
// step returns a classified failure; the orchestrator stops at the first.
type Pipeline struct {
	config      Config
	directory   *identity.Directory
	provisioner *identity.Provisioner
	merger      *identity.Merger
	store       *accounts.Store
	authorizer  Authorizer
	roles       RoleRegistry
	logger      *zap.Logger
}

// NewPipeline constructs the pipeline with validated dependencies.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if strings.TrimSpace(cfg.Config.Issuer) == "" {
		return nil, fmt.Errorf("invites: provider issuer required")
	}
	if strings.TrimSpace(cfg.Config.ClientID) == "" {
		return nil, fmt.Errorf("invites: client id required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("invites: subject directory required")
	}
	if cfg.Provisioner == nil {
		return nil, fmt.Errorf("invites: account provisioner required")
	}
	if cfg.Merger == nil {
		return nil, fmt.Errorf("invites: claim merger required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("invites: account store required")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("invites: authorizer required")
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("invites: role registry required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:      cfg.Config,
		directory:   cfg.Directory,
		provisioner: cfg.Provisioner,
		merger:      cfg.Merger,
		store:       cfg.Store,
		authorizer:  cfg.Authorizer,
		roles:       cfg.Roles,
		logger:      logger,
	}, nil
}

// Process runs one inbound message through envelope validation, decode,
// claims validation, and dispatch, terminal at the first failure.
func (p *Pipeline) Process(env Envelope, body string) error {
	if err := ValidateEnvelope(env); err != nil {
		return err
	}

	event, err := DecodeEvent(body)
	if err != nil {
		p.logger.Warn("event token decode failed",
			zap.String("body", body),
			zap.Error(err))
		return fail(FailureBadRequest, err)
	}

	if err := p.validateClaims(event); err != nil {
		p.logger.Warn("event claims rejected",
			zap.String("issuer", event.Issuer),
			zap.Strings("audience", event.Audience),
			zap.Error(err))
		return fail(FailureBadRequest, err)
	}

	return p.dispatch(event)
}

func (p *Pipeline) validateClaims(event *Event) error {
	if event.Issuer != p.config.Issuer {
		return errIssuerMismatch
	}
	for _, audience := range event.Audience {
		if audience == p.config.ClientID {
			return nil
		}
	}
	return errAudienceMismatch
}

func (p *Pipeline) dispatch(event *Event) error {
	keys := make([]string, 0, len(event.Events))
	for key := range event.Events {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case EventInviteCreated:
			if err := p.handleCreated(event, event.Events[key]); err != nil {
				return err
			}
		case EventInviteRetracted, EventInviteDeclined:
			// reserved: accepted without side effects
		default:
			p.logger.Info("ignoring unrecognized event type",
				zap.String("event_type", key))
		}
	}
	return nil
}

// handleCreated provisions or updates the invitee account described by the
// created sub-event.
func (p *Pipeline) handleCreated(event *Event, raw json.RawMessage) error {
	var created createdEvent
	if err := json.Unmarshal(raw, &created); err != nil {
		return fail(FailureBadRequest, fmt.Errorf("%w: %w", errMalformedSubEvent, err))
	}

	if !p.roles.Known(created.Role) {
		return fail(FailureNotFound, fmt.Errorf("%w: %q", errUnknownRole, created.Role))
	}

	inviter, err := p.directory.Resolve(created.Inviter.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrSubjectNotFound) {
			return fail(FailureNotFound, errInviterNotFound)
		}
		return fail(FailureBadRequest, err)
	}

	if !p.authorizer.AccountHasCapability(inviter, authz.CapabilityCreateAccounts) {
		return fail(FailureForbidden, errInviterCannotGrant)
	}
	if created.Role != p.roles.DefaultRole() &&
		!p.authorizer.AccountHasCapability(inviter, authz.CapabilityPromoteAccounts) {
		return fail(FailureForbidden, errInviterCannotRaise)
	}

	invitee, err := p.directory.Resolve(event.Subject)
	switch {
	case err == nil:
		if invitee.Role != created.Role {
			if err := p.store.SetRole(invitee.ID, created.Role); err != nil {
				return fail(FailureBadRequest, err)
			}
			p.persistProvenance(invitee.ID, raw)
		}
	case errors.Is(err, identity.ErrSubjectNotFound):
		seed := accounts.Seed{
			Login: event.Email,
			Email: event.Email,
			Role:  created.Role,
		}
		// invite-originated accounts always attempt linking, regardless of
		// the deployment's linking policy
		account, createErr := p.provisioner.CreateOrLink(event.Subject, seed, true)
		if createErr != nil {
			return fail(FailureBadRequest, createErr)
		}
		invitee = account
		p.persistProvenance(invitee.ID, raw)
	default:
		return fail(FailureBadRequest, err)
	}

	p.merger.ReconcileIdentityAttributes(invitee, identity.Assertion{
		Subject:    event.Subject,
		Email:      event.Email,
		GivenName:  event.GivenName,
		FamilyName: event.FamilyName,
	})
	p.merger.ApplyExtraClaims(invitee.ID, event.Extra)

	// the token marker is refreshed on every processed event, changed or not
	if err := p.store.SetAttribute(invitee.ID, AttributeLastToken, event.Raw); err != nil {
		p.logger.Warn("failed to refresh last-token marker",
			zap.String("account_id", invitee.ID),
			zap.Error(err))
	}
	return nil
}

func (p *Pipeline) persistProvenance(accountID string, raw json.RawMessage) {
	if err := p.store.SetAttribute(accountID, AttributeInviteCreated, string(raw)); err != nil {
		p.logger.Warn("failed to persist invite provenance",
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}
