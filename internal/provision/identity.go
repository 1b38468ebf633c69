// internal/provision/identity.go
package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	usernameChars = "abcdefghijklmnopqrstuvwxyz0123456789"
	digitChars    = "0123456789"

	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	specialChars = "!@#$%^&*()_+~`|}{[]:;?><,./-="

	usernameLength       = 5
	passwordLength       = 12
	playerLoginLength    = 6
	playerPasswordLength = 4
)

// Identity is the generated sign-up identity for one run.
type Identity struct {
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// Email is the mailbox address for the identity on domain.
func (id Identity) Email(domain string) string {
	return id.Username + "@" + domain
}

// PlayerCredentials are the numeric credentials of the in-service player.
type PlayerCredentials struct {
	Login    string
	Password string
}

// NewIdentity generates a random username and password for the given names.
func NewIdentity(firstName, lastName string) (Identity, error) {
	username, err := randomString(usernameChars, usernameLength)
	if err != nil {
		return Identity{}, err
	}
	password, err := strongPassword()
	if err != nil {
		return Identity{}, err
	}
	return Identity{Username: username, FirstName: firstName, LastName: lastName, Password: password}, nil
}

// NewPlayerCredentials generates a six digit login and a four digit password.
func NewPlayerCredentials() (PlayerCredentials, error) {
	login, err := randomString(digitChars, playerLoginLength)
	if err != nil {
		return PlayerCredentials{}, err
	}
	password, err := randomString(digitChars, playerPasswordLength)
	if err != nil {
		return PlayerCredentials{}, err
	}
	return PlayerCredentials{Login: login, Password: password}, nil
}

func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, fmt.Errorf("crypto/rand failure: %w", err)
	}
	return charset[n.Int64()], nil
}

func randomString(charset string, length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		c, err := randomChar(charset)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return string(out), nil
}

// strongPassword returns a shuffled password holding at least one upper case
// letter, lower case letter, digit and special character.
func strongPassword() (string, error) {
	var password []byte
	for _, charset := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := randomChar(charset)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}
	all := upperChars + lowerChars + digitChars + specialChars
	for len(password) < passwordLength {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	// Fisher-Yates.
	for i := len(password) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure during shuffle: %w", err)
		}
		password[i], password[j.Int64()] = password[j.Int64()], password[i]
	}
	return string(password), nil
}
