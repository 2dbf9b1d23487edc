package database

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// Keyring service name for database credentials
	DatabaseKeyringService = "agentgraph-database"
	DatabasePasswordKey    = "postgres-password"
)

// GetDatabasePassword looks up the password for databaseName. The
// AGENTGRAPH_DATABASE_PASSWORD environment variable wins over the keyring so
// containers without a keyring daemon can still start.
func GetDatabasePassword(databaseName string) (string, error) {
	if pw := os.Getenv("AGENTGRAPH_DATABASE_PASSWORD"); pw != "" {
		return pw, nil
	}
	password, err := keyring.Get(keyringService(databaseName), DatabasePasswordKey)
	if err != nil {
		return "", fmt.Errorf("database password not found in keyring for %q: %w", databaseName, err)
	}
	return password, nil
}

// SetDatabasePassword stores the password for databaseName in the system keyring.
func SetDatabasePassword(databaseName, password string) error {
	if err := keyring.Set(keyringService(databaseName), DatabasePasswordKey, password); err != nil {
		return fmt.Errorf("failed to store database password in keyring: %w", err)
	}
	return nil
}

func keyringService(databaseName string) string {
	if databaseName == "" {
		return DatabaseKeyringService
	}
	return DatabaseKeyringService + "-" + databaseName
}
