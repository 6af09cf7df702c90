package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// AddAccount inserts a credential. The password must already be a Fernet
// token. Re-adding an existing email reactivates it and replaces the
// password.
func (s *Store) AddAccount(ctx context.Context, email, passwordCiphertext string) error {
	var existing Account
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	switch {
	case err == nil:
		existing.Password = passwordCiphertext
		existing.IsActive = true
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to update account %s: %w", email, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		account := Account{Email: email, Password: passwordCiphertext, IsActive: true}
		if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
			return fmt.Errorf("failed to insert account %s: %w", email, err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up account %s: %w", email, err)
	}
}

// GetAccount returns one account by email.
func (s *Store) GetAccount(ctx context.Context, email string) (*Account, error) {
	var account Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up account %s: %w", email, err)
	}
	return &account, nil
}

// ListActiveAccounts returns all accounts eligible for the pool, in
// insertion order.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccessToken persists a freshly acquired token. The puid belongs to
// the previous token and is cleared; the session recaptures it on the next
// models call.
func (s *Store) UpdateAccessToken(ctx context.Context, email, accessToken string) error {
	err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).
		Updates(map[string]interface{}{"access_token": accessToken, "puid": ""}).Error
	if err != nil {
		return fmt.Errorf("failed to update token for %s: %w", email, err)
	}
	return nil
}

// UpdatePUID stores the affinity cookie captured from the upstream.
func (s *Store) UpdatePUID(ctx context.Context, email, puid string) error {
	err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).
		Update("puid", puid).Error
	if err != nil {
		return fmt.Errorf("failed to update puid for %s: %w", email, err)
	}
	return nil
}

// DeactivateAccount soft-deletes an account. Its session is evicted by the
// lifecycle worker on the next health check.
func (s *Store) DeactivateAccount(ctx context.Context, email string) error {
	err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate account %s: %w", email, err)
	}
	return nil
}

// ImportAccounts bulk-loads bootstrap credentials, skipping emails that
// already exist.
func (s *Store) ImportAccounts(ctx context.Context, accounts []Account) (int, error) {
	imported := 0
	for _, a := range accounts {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", a.Email).Count(&count).Error; err != nil {
			return imported, fmt.Errorf("failed to check account %s: %w", a.Email, err)
		}
		if count > 0 {
			continue
		}
		a.IsActive = true
		if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
			return imported, fmt.Errorf("failed to import account %s: %w", a.Email, err)
		}
		imported++
	}
	return imported, nil
}
