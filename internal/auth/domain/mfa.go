package domain

import "time"

// MFAState is the per-identity TOTP enrolment state.
//
//	none -> pending_setup -> enabled -> none
type MFAState string

const (
	MFAStateNone         MFAState = "none"
	MFAStatePendingSetup MFAState = "pending_setup"
	MFAStateEnabled      MFAState = "enabled"
)

// MFA methods offered in a login challenge.
const (
	MethodTOTP     = "totp"
	MethodRecovery = "recovery"
	MethodWebAuthn = "webauthn"
)

// RecoveryCodeCount is how many recovery codes are issued per set.
const RecoveryCodeCount = 10

// MFARecord holds an identity's second factors. The TOTP secret is sealed
// at rest.
type MFARecord struct {
	IdentityID       string
	State            MFAState
	TOTPSecretSealed string
	WebAuthnUserID   []byte // stable user handle for passkeys
	EnabledAt        *time.Time
	LastTOTPStep     int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RecoveryCode is one hashed single-use code. Position is the index the
// code had in the issued set.
type RecoveryCode struct {
	ID         string
	IdentityID string
	Position   int
	Hash       string
	CreatedAt  time.Time
}

// WebAuthnCredential is a registered passkey.
type WebAuthnCredential struct {
	ID              []byte
	IdentityID      string
	Name            string
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32
	Transports      []string
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// LoginChallenge is a password-verified login waiting for a second factor.
type LoginChallenge struct {
	IdentityID string   `json:"identity_id"`
	Methods    []string `json:"methods"`
	AMR        []string `json:"amr"`
	ExpiresAt  int64    `json:"exp"`
}

// MFAChallengeResponse is returned when MFA is required during login.
type MFAChallengeResponse struct {
	MFARequired bool     `json:"mfa_required"` // always true
	MFAToken    string   `json:"mfa_token"`
	Methods     []string `json:"methods"`
}

// TOTPSetup is handed to the client once, to render as a QR code.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
	Label  string `json:"label"`
}
