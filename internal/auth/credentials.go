package auth

import (
	"crypto/subtle"
	"errors"

	"listings-hub/internal/config"
)

var (
	ErrUnknownExperience = errors.New("unknown experience")
	ErrInvalidAPIKey     = errors.New("invalid experience api key")
	ErrInvalidSignature  = errors.New("invalid signature")
)

// Experiences checks that event submissions come from a configured embedding experience.
type Experiences struct {
	creds          map[string]config.ExperienceCredential
	fallbackSecret string
}

// NewExperiences builds a verifier. fallbackSecret signs submissions of experiences
// that have no secret of their own; empty disables it.
func NewExperiences(creds map[string]config.ExperienceCredential, fallbackSecret string) *Experiences {
	return &Experiences{creds: creds, fallbackSecret: fallbackSecret}
}

// Verify checks the API key of experienceID and, when a secret applies, the signature
// of body.
func (e *Experiences) Verify(experienceID, apiKey, signature string, body []byte) error {
	cred, ok := e.creds[experienceID]
	if !ok {
		return ErrUnknownExperience
	}
	if !equalKey(cred.APIKey, apiKey) {
		return ErrInvalidAPIKey
	}
	secret := cred.HMACSecret
	if secret == "" {
		secret = e.fallbackSecret
	}
	if secret != "" && !VerifySignature(secret, body, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Admins resolves admin API keys to admin names.
type Admins struct {
	creds map[string]config.AdminCredential
}

func NewAdmins(creds map[string]config.AdminCredential) *Admins {
	return &Admins{creds: creds}
}

// Lookup returns the name of the admin holding key.
func (a *Admins) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for name, cred := range a.creds {
		if equalKey(cred.APIKey, key) {
			return name, true
		}
	}
	return "", false
}

func equalKey(expected, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}
