package domain

import "time"

type VerificationType string

const (
	VerificationOnboarding    VerificationType = "onboarding"
	VerificationResetPassword VerificationType = "reset-password"
	VerificationChangeEmail   VerificationType = "change-email"
	VerificationTwoFactor     VerificationType = "two-factor"
)

// ParseVerificationType maps a wire value to a known verification type.
func ParseVerificationType(s string) (VerificationType, bool) {
	switch VerificationType(s) {
	case VerificationOnboarding, VerificationResetPassword, VerificationChangeEmail, VerificationTwoFactor:
		return VerificationType(s), true
	}
	return "", false
}

// SingleUse reports whether a redeemed code of this type consumes its record.
// Two-factor secrets are standing: they are re-validated on every login and
// survive redemption.
func (t VerificationType) SingleUse() bool {
	return t != VerificationTwoFactor
}

// Verification is a one-time-code record, at most one live record per
// (Target, Type) pair. ExpiresAt nil means the record never expires.
type Verification struct {
	Type      VerificationType
	Target    string // opaque: an email or a user id depending on Type
	Secret    string
	Algorithm string
	Digits    int
	Period    int // seconds
	CharSet   string
	Payload   string // optional flow data, e.g. the pending address for change-email
	ExpiresAt *time.Time
	CreatedAt time.Time
}
