package salesforce

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Domain selects the login host.
type Domain string

const (
	DomainLogin Domain = "login"
	DomainTest  Domain = "test"
)

// Valid reports whether d is one of the supported login domains.
func (d Domain) Valid() bool {
	return d == DomainLogin || d == DomainTest
}

// Credentials are username/password credentials for one org.
type Credentials struct {
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	SecurityToken string `toml:"security_token"`
	Domain        Domain `toml:"domain"`
}

// Validate checks that the credentials can be submitted.
func (c Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	if !c.Domain.Valid() {
		return fmt.Errorf("domain %q must be %q or %q", c.Domain, DomainLogin, DomainTest)
	}
	return nil
}

// CacheKey identifies the org user and secret behind c. The secret only
// enters the key as a digest, so changed or wrong credentials for a cached
// user never reuse that user's session.
func (c Credentials) CacheKey() string {
	sum := blake2b.Sum256([]byte(c.Password + "\x00" + c.SecurityToken))
	return string(c.Domain) + "|" + c.Username + "|" + hex.EncodeToString(sum[:8])
}
