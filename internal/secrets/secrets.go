// Package secrets provides a platform-abstracted interface for secure
// credential storage. On macOS, credentials are stored in the system
// Keychain. On other platforms, a no-op fallback is used (credentials come
// from the environment or the settings file only).
package secrets

import "errors"

// Service name used for slackask credentials in the system keychain.
const ServiceName = "slackask"

// Account names for the Slack credentials.
const (
	// AccountBotToken is the account name for the Slack bot token (xoxb-...).
	AccountBotToken = "slack-bot-token"

	// AccountAppToken is the account name for the app-level token (xapp-...)
	// used by the Socket Mode connection.
	AccountAppToken = "slack-app-token"
)

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore provides an interface for secure credential storage.
// Implementations should be safe for concurrent use.
type SecretStore interface {
	// Get retrieves a password for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)

	// Set stores a password for the given service and account.
	// If a credential already exists, it is updated.
	Set(service, account, password string) error

	// Delete removes a credential for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error

	// IsSupported returns true if this store is functional on the current platform.
	IsSupported() bool
}

// store is the package-level secret store instance, initialized at package
// load time by the platform-specific init() function.
var store SecretStore

// Default returns the default SecretStore for the current platform.
// This function always returns a valid store; on unsupported platforms,
// it returns a NoopStore that returns ErrNotSupported for all operations.
func Default() SecretStore {
	if store == nil {
		store = &NoopStore{}
	}
	return store
}

// IsSupported returns true if secure credential storage is available on this platform.
func IsSupported() bool {
	return Default().IsSupported()
}

// Get retrieves a password for the given service and account using the default store.
func Get(service, account string) (string, error) {
	return Default().Get(service, account)
}

// Set stores a password for the given service and account using the default store.
func Set(service, account, password string) error {
	return Default().Set(service, account, password)
}

// Delete removes a credential for the given service and account using the default store.
func Delete(service, account string) error {
	return Default().Delete(service, account)
}

// GetBotToken retrieves the Slack bot token from the secret store.
func GetBotToken() (string, error) {
	return Get(ServiceName, AccountBotToken)
}

// GetAppToken retrieves the Slack app-level token from the secret store.
func GetAppToken() (string, error) {
	return Get(ServiceName, AccountAppToken)
}

// SetBotToken stores the Slack bot token in the secret store.
func SetBotToken(token string) error {
	return Set(ServiceName, AccountBotToken, token)
}

// SetAppToken stores the Slack app-level token in the secret store.
func SetAppToken(token string) error {
	return Set(ServiceName, AccountAppToken, token)
}
