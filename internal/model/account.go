package model

import (
	"net"
	"strconv"
)

// AccountConfig holds the connection settings for a single mailbox.
// It is supplied at startup and never modified afterwards.
type AccountConfig struct {
	// ID is the stable identifier used in logs, messages and the API.
	ID string `mapstructure:"id" yaml:"id"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// UseTLS selects implicit TLS. When false the connection is plain
	// text unless StartTLS is set.
	UseTLS bool `mapstructure:"use_tls" yaml:"use_tls"`

	// StartTLS upgrades a plain connection with STARTTLS. Ignored when
	// UseTLS is set.
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`

	// InsecureSkipVerify accepts any server certificate. Only meant for
	// self-signed servers.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// PasswordKey names a keyring entry to read the password from when
	// Password is empty.
	PasswordKey string `mapstructure:"password_key" yaml:"password_key"`
}

// HasCredentials reports whether both username and password are set.
func (a AccountConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// Addr returns the host:port dial address.
func (a AccountConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
