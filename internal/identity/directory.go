package identity

import (
	"errors"
	"fmt"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
	"go.uber.org/zap"
)

// SubjectAttribute is the account attribute holding the external subject
// identifier asserted by the identity provider.
const SubjectAttribute = "external_subject"

var (
	// ErrSubjectNotFound indicates no account is linked to the subject.
	ErrSubjectNotFound = errors.New("identity: subject not linked to any account")
	// ErrSubjectAlreadyLinked indicates the account already holds a link to
	// a different subject. Links are never silently overwritten.
	ErrSubjectAlreadyLinked = errors.New("identity: account already linked to another subject")
	errEmptySubject         = errors.New("identity: subject identifier must not be empty")
)

// Directory resolves external subject identifiers to local accounts and
// back, over account attribute storage.
type Directory struct {
	store  *accounts.Store
	logger *zap.Logger
}

// NewDirectory constructs a subject directory.
func NewDirectory(store *accounts.Store, logger *zap.Logger) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: account store required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{store: store, logger: logger}, nil
}

// FindSubject returns the subject linked to the account, or an empty string
// when the account is unlinked.
func (d *Directory) FindSubject(accountID string) (string, error) {
	return d.store.GetAttribute(accountID, SubjectAttribute)
}

// Link writes the subject link only when none exists yet. A link already
// holding a different value is a conflict, never overwritten.
func (d *Directory) Link(accountID, subject string) error {
	if subject == "" {
		return errEmptySubject
	}
	existing, err := d.store.GetAttribute(accountID, SubjectAttribute)
	if err != nil {
		return err
	}
	if existing == subject {
		return nil
	}
	if existing != "" {
		return ErrSubjectAlreadyLinked
	}
	return d.store.SetAttribute(accountID, SubjectAttribute, subject)
}

// Update unconditionally rewrites the subject link. Used only by the linking
// flow for its own account, never to transfer a link between accounts.
func (d *Directory) Update(accountID, subject string) error {
	if subject == "" {
		return errEmptySubject
	}
	return d.store.SetAttribute(accountID, SubjectAttribute, subject)
}

// Unlink removes the subject link from the account.
func (d *Directory) Unlink(accountID string) error {
	return d.store.RemoveAttribute(accountID, SubjectAttribute)
}

// Resolve returns the account linked to the subject. More than one linked
// account indicates a prior invariant violation; the anomaly is logged as an
// integrity alarm and the first match in stable order is returned.
func (d *Directory) Resolve(subject string) (accounts.Account, error) {
	if subject == "" {
		return accounts.Account{}, errEmptySubject
	}
	matches, err := d.store.FindByAttribute(SubjectAttribute, subject)
	if err != nil {
		return accounts.Account{}, err
	}
	if len(matches) == 0 {
		return accounts.Account{}, ErrSubjectNotFound
	}
	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, match := range matches {
			ids = append(ids, match.ID)
		}
		d.logger.Error("subject linked to multiple accounts",
			zap.String("subject", subject),
			zap.Strings("account_ids", ids))
	}
	return matches[0], nil
}
