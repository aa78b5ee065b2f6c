package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a registered journal user as persisted in the accounts file.
type Account struct {
	Username         string          `json:"username"`
	PasswordHash     string          `json:"passwordHash"`
	Email            string          `json:"email,omitempty"`
	EmailVerified    bool            `json:"emailVerified"`
	TwoFactorEnabled bool            `json:"twoFactorEnabled"`
	IsAdmin          bool            `json:"isAdmin"`
	CreatedAt        time.Time       `json:"createdAt"`
	Savings          decimal.Decimal `json:"savings"`
	RecoveryCode     string          `json:"recoveryCode"`

	// Savings goal, owned by the budget screens.
	DreamDestination *string          `json:"dreamDestination,omitempty"`
	DreamBudget      *decimal.Decimal `json:"dreamBudget,omitempty"`

	// LegacyPassword is the plaintext credential written by older versions of
	// the journal. It is hashed on the next successful login or by the
	// startup migration, then dropped.
	LegacyPassword string `json:"password,omitempty"`

	// Pending challenge. Never written to disk.
	PendingTwoFactorCodeHash  string     `json:"-"`
	PendingTwoFactorExpiresAt *time.Time `json:"-"`
}

// MarshalJSON writes money fields as JSON numbers rather than the quoted
// strings decimal.Decimal produces, so other readers of the file can parse them.
func (a Account) MarshalJSON() ([]byte, error) {
	type record Account
	out := struct {
		record
		Savings     json.Number  `json:"savings"`
		DreamBudget *json.Number `json:"dreamBudget,omitempty"`
	}{
		record:  record(a),
		Savings: json.Number(a.Savings.String()),
	}
	if a.DreamBudget != nil {
		n := json.Number(a.DreamBudget.String())
		out.DreamBudget = &n
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts creation times with or without a zone offset. Older
// files store an unset time as "0001-01-01T00:00:00"; offset-less values are
// read as UTC.
func (a *Account) UnmarshalJSON(data []byte) error {
	type record Account
	in := struct {
		*record
		CreatedAt *string `json:"createdAt"`
	}{record: (*record)(a)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.CreatedAt == nil || *in.CreatedAt == "" {
		a.CreatedAt = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999"} {
		if t, err := time.Parse(layout, *in.CreatedAt); err == nil {
			a.CreatedAt = t
			return nil
		}
	}
	return fmt.Errorf("invalid createdAt %q", *in.CreatedAt)
}

// HasPendingChallenge reports whether a one-time code is outstanding.
func (a *Account) HasPendingChallenge() bool {
	return a.PendingTwoFactorExpiresAt != nil && a.PendingTwoFactorCodeHash != ""
}

// RequiresTwoFactor reports whether login must go through an emailed code.
func (a *Account) RequiresTwoFactor() bool {
	return a.TwoFactorEnabled
}

// CanReceiveCodes reports whether the account has an address that codes may be sent to.
func (a *Account) CanReceiveCodes() bool {
	return a.Email != "" && a.EmailVerified
}

// Clone returns a copy that shares no mutable state with a.
func (a *Account) Clone() *Account {
	c := *a
	if a.PendingTwoFactorExpiresAt != nil {
		t := *a.PendingTwoFactorExpiresAt
		c.PendingTwoFactorExpiresAt = &t
	}
	if a.DreamDestination != nil {
		d := *a.DreamDestination
		c.DreamDestination = &d
	}
	if a.DreamBudget != nil {
		b := *a.DreamBudget
		c.DreamBudget = &b
	}
	return &c
}
