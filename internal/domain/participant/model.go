package participant

import "time"

// ReferralStep tracks where a participant is in the referral dialogue.
type ReferralStep string

const (
	StepNone ReferralStep = "none"
	StepAsk  ReferralStep = "ask"
	StepDone ReferralStep = "done"
)

// Participant is a chat user with at least one proven address.
type Participant struct {
	UserID       int64
	ReferralCode string
	ReferredBy   *string
	ReferralStep ReferralStep
	CreatedAt    time.Time
}

// Address is a ledger address whose ownership a participant has proven.
// Address is stored in raw "workchain:hex" form.
type Address struct {
	Address            string
	UserID             int64
	Attested           bool
	AttestedIdentityID *string
	LinkedAt           time.Time
}

// Attestation is a statement by an attestor that an address belongs to a verified identity.
type Attestation struct {
	Attestor   string
	Address    string
	IdentityID string
	AttestedAt time.Time
}
