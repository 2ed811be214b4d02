package accounts

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAccountNotFound indicates no account matched the requested lookup.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrInvalidSeed indicates the seed lacked a usable login name.
	ErrInvalidSeed = errors.New("accounts: seed requires a login name")
)

// StoreConfig describes the dependencies required by the account store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store persists accounts and their named attributes.
type Store struct {
	db  *gorm.DB
	now func() time.Time
	ids IDProvider
}

// NewStore constructs the account store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &Store{
		db:  cfg.Database,
		now: clock,
		ids: ids,
	}, nil
}

// Create persists a new account from the provided seed and returns it with
// its assigned identifier.
func (s *Store) Create(seed Seed) (Account, error) {
	login := normalize(seed.Login)
	if login == "" {
		return Account{}, ErrInvalidSeed
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:         id,
		Login:      login,
		Email:      normalize(seed.Email),
		Role:       normalize(seed.Role),
		GivenName:  normalize(seed.GivenName),
		FamilyName: normalize(seed.FamilyName),
		Credential: seed.Credential,
		CreatedAt:  s.now(),
	}
	if err := s.db.Create(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}

// Get returns the account with the given identifier.
func (s *Store) Get(id string) (Account, error) {
	var account Account
	err := s.db.Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// GetAttribute returns the stored attribute value, or an empty string when
// the attribute has never been written.
func (s *Store) GetAttribute(accountID, name string) (string, error) {
	var attribute Attribute
	err := s.db.
		Where("account_id = ? AND name = ?", accountID, name).
		First(&attribute).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return attribute.Value, nil
}

// SetAttribute writes the attribute value, replacing any previous value.
func (s *Store) SetAttribute(accountID, name, value string) error {
	attribute := Attribute{
		AccountID: accountID,
		Name:      name,
		Value:     value,
		UpdatedAt: s.now(),
	}
	return s.db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&attribute).
		Error
}

// RemoveAttribute deletes the attribute if present.
func (s *Store) RemoveAttribute(accountID, name string) error {
	return s.db.
		Where("account_id = ? AND name = ?", accountID, name).
		Delete(&Attribute{}).
		Error
}

// FindByAttribute returns every account holding the given attribute value,
// ordered by account id so repeated lookups observe a stable order.
func (s *Store) FindByAttribute(name, value string) ([]Account, error) {
	var matches []Account
	err := s.db.
		Joins("JOIN account_attributes ON account_attributes.account_id = accounts.id").
		Where("account_attributes.name = ? AND account_attributes.value = ?", name, value).
		Order("accounts.id").
		Find(&matches).
		Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// FindByContactAddress returns the account holding the given contact
// address. An empty address never matches: the address is the account-
// matching key, and accounts without one must not be reachable through it.
func (s *Store) FindByContactAddress(address string) (Account, error) {
	normalized := normalize(address)
	if normalized == "" {
		return Account{}, ErrAccountNotFound
	}
	var account Account
	err := s.db.
		Where("email = ?", normalized).
		Order("id").
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// LoginNameExists reports whether any account already holds the login name.
func (s *Store) LoginNameExists(login string) (bool, error) {
	var count int64
	err := s.db.
		Model(&Account{}).
		Where("login = ?", normalize(login)).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetRole assigns the role on an existing account.
func (s *Store) SetRole(accountID, role string) error {
	return s.updateFields(accountID, map[string]interface{}{"role": role})
}

// UpdateFields applies the given column updates to an existing account.
func (s *Store) UpdateFields(accountID string, fields map[string]interface{}) error {
	return s.updateFields(accountID, fields)
}

func (s *Store) updateFields(accountID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = s.now()
	result := s.db.
		Model(&Account{}).
		Where("id = ?", accountID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
