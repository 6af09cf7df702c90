package config

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// BootstrapAccount is one entry of the accounts.yaml bootstrap file.
// The password is stored Fernet-encrypted, exactly as it goes into the database.
type BootstrapAccount struct {
	Email    string `yaml:"email"`
	Password string `yaml:"passwd"`
}

// LoadAccountsFile reads the bootstrap account list. A missing file is not an
// error; it returns an empty list so a fresh deployment can start with zero
// accounts and add them through the admin endpoint.
func LoadAccountsFile(path string) ([]BootstrapAccount, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()

	return decodeAccounts(f)
}

func decodeAccounts(r io.Reader) ([]BootstrapAccount, error) {
	var accounts []BootstrapAccount
	if err := yaml.NewDecoder(r).Decode(&accounts); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode accounts file: %w", err)
	}
	return accounts, nil
}
