package identity

import (
	"errors"
	"fmt"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
	"go.uber.org/zap"
)

var (
	// ErrCannotAuthorize indicates the creation-authorization strategy
	// refused to provision an account for the seed.
	ErrCannotAuthorize = errors.New("identity: account creation not authorized")
	// ErrFailedUserCreation wraps an account store failure during creation.
	ErrFailedUserCreation = errors.New("identity: account creation failed")
)

// LinkConflictError reports an attempt to link a subject to an account that
// already holds a different subject. The condition is terminal and requires
// manual resolution; both identifiers are carried for operator diagnosis.
type LinkConflictError struct {
	AccountID       string
	ExistingSubject string
	NewSubject      string
}

func (e *LinkConflictError) Error() string {
	return fmt.Sprintf(
		"identity: account %s already linked to subject %s, refusing link to %s",
		e.AccountID, e.ExistingSubject, e.NewSubject,
	)
}

// Policy captures the deployment knobs governing provisioning behavior.
type Policy struct {
	// LinkExistingAccounts enables matching inbound subjects to existing
	// accounts by contact address.
	LinkExistingAccounts bool
	// CreateIfNotExists is the default answer of the creation-authorization
	// strategy when no override is registered.
	CreateIfNotExists bool
}

// ProvisionerConfig describes the dependencies of the account provisioner.
type ProvisionerConfig struct {
	Store     *accounts.Store
	Directory *Directory
	Policy    Policy
	Hooks     *Hooks
	Logger    *zap.Logger
}

// Provisioner creates a local account for an external subject, or links an
// existing account matched by contact address, holding the one-subject-to-
// one-account invariant.
type Provisioner struct {
	store     *accounts.Store
	directory *Directory
	policy    Policy
	hooks     *Hooks
	logger    *zap.Logger
}

// NewProvisioner constructs a provisioner.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("identity: account store required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("identity: subject directory required")
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NewHooks()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		store:     cfg.Store,
		directory: cfg.Directory,
		policy:    cfg.Policy,
		hooks:     hooks,
		logger:    logger,
	}, nil
}

// CreateOrLink resolves the subject to a local account, linking an existing
// account matched by contact address when forceLink or the deployment's
// linking policy allows it, and provisioning a new account otherwise.
func (p *Provisioner) CreateOrLink(subject string, seed accounts.Seed, forceLink bool) (accounts.Account, error) {
	if subject == "" {
		return accounts.Account{}, errEmptySubject
	}

	// a seed without a contact address has no account-matching key and can
	// only go through the creation path
	if (forceLink || p.policy.LinkExistingAccounts) && seed.Email != "" {
		existing, err := p.store.FindByContactAddress(seed.Email)
		switch {
		case err == nil:
			linked, linkErr := p.LinkExisting(existing.ID, subject)
			if linkErr != nil {
				return accounts.Account{}, linkErr
			}
			p.hooks.notifyLink(linked, seed)
			return linked, nil
		case errors.Is(err, accounts.ErrAccountNotFound):
			// no match, fall through to creation
		default:
			return accounts.Account{}, err
		}
	}

	if !p.hooks.authorize(seed, p.policy.CreateIfNotExists) {
		return accounts.Account{}, ErrCannotAuthorize
	}

	credential, err := accounts.NewCredential()
	if err != nil {
		return accounts.Account{}, err
	}
	seed.Credential = credential

	login, err := p.availableLogin(seed.Login)
	if err != nil {
		return accounts.Account{}, err
	}
	seed.Login = login

	seed = p.hooks.transform(seed)

	account, err := p.store.Create(seed)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %w", ErrFailedUserCreation, err)
	}

	if err := p.directory.Link(account.ID, subject); err != nil {
		return accounts.Account{}, err
	}

	p.logger.Info("account provisioned",
		zap.String("account_id", account.ID),
		zap.String("login", account.Login))
	p.hooks.notifyCreate(account, seed)
	return account, nil
}

// LinkExisting links the subject to an existing account. A matching link is
// an idempotent no-op; a differing link is a terminal conflict and the
// existing link is never mutated.
func (p *Provisioner) LinkExisting(accountID, subject string) (accounts.Account, error) {
	account, err := p.store.Get(accountID)
	if err != nil {
		return accounts.Account{}, err
	}

	existing, err := p.directory.FindSubject(accountID)
	if err != nil {
		return accounts.Account{}, err
	}
	if existing == subject {
		return account, nil
	}
	if existing != "" {
		return accounts.Account{}, &LinkConflictError{
			AccountID:       accountID,
			ExistingSubject: existing,
			NewSubject:      subject,
		}
	}

	if err := p.directory.Update(accountID, subject); err != nil {
		return accounts.Account{}, err
	}
	p.hooks.notifyUpdate(account, accounts.Seed{})
	return account, nil
}

// availableLogin resolves login-name collisions by appending an incrementing
// integer suffix starting at 2 until a free name is found.
func (p *Provisioner) availableLogin(requested string) (string, error) {
	base := requested
	candidate := base
	for suffix := 2; ; suffix++ {
		exists, err := p.store.LoginNameExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, suffix)
	}
}
