package model

import "time"

// Credential priorities, 1 being the most important for the inheritor.
const (
	PriorityCritical  = 1
	PriorityImportant = 2
	PriorityOptional  = 3
)

// CredentialEntry is one credential stored in a locker. The Encrypted* fields
// hold ciphertext sealed with the locker's master key; they are never
// decrypted outside a single request.
type CredentialEntry struct {
	ID                      int64
	LockerID                int64
	Title                   string
	Category                CredentialCategory
	Website                 string
	AccountIdentifier       string
	Notes                   string
	EncryptedUsername       string
	EncryptedPassword       string
	EncryptedAdditionalData string
	Priority                int
	IsActive                bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// CredentialSecrets is the plaintext form of the encrypted credential fields.
type CredentialSecrets struct {
	Username       string
	Password       string
	AdditionalData string
}

// RevealedCredential is a credential entry with its secrets decrypted, handed
// to the inheritor after a successful OTP exchange.
type RevealedCredential struct {
	Entry   CredentialEntry
	Secrets CredentialSecrets
}
