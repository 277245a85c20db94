// internal/models/password.go

package models

import (
	"errors"

	"sshmen/internal/crypto"
)

// Password is a stored credential. The secret is kept encrypted at rest.
type Password struct {
	Description string `json:"description"`
	Password    string `json:"password"`
}

func NewPassword(description string, plainPassword string, cipher *crypto.Cipher) (*Password, error) {
	if description == "" {
		return nil, errors.New("description cannot be empty")
	}
	if plainPassword == "" {
		return nil, errors.New("password cannot be empty")
	}

	encryptedPass, err := cipher.Encrypt(plainPassword)
	if err != nil {
		return nil, err
	}

	return &Password{
		Description: description,
		Password:    encryptedPass,
	}, nil
}

func (p *Password) Validate() error {
	if p.Description == "" {
		return errors.New("description cannot be empty")
	}
	if p.Password == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

// GetDecrypted returns the plaintext secret.
func (p *Password) GetDecrypted(cipher *crypto.Cipher) (string, error) {
	if cipher == nil {
		return "", errors.New("no cipher configured")
	}
	return cipher.Decrypt(p.Password)
}
