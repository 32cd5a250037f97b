// Package models contains the core domain types shared across the prep
// pipeline: accounts, meetings, harvested artifacts, briefs, and the
// pipeline error kinds.
package models

import "time"

// AccountStatus represents the lifecycle state of a connected account.
type AccountStatus string

// Account status values.
const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusRevoked AccountStatus = "revoked"
)

// Account is one provider-linked identity (mail+drive+calendar under one
// address) owned by a User. Mutated only by the token guard or
// user-initiated revocation.
type Account struct {
	ID           string        `db:"id" json:"id"`
	UserID       string        `db:"user_id" json:"user_id"`
	Provider     string        `db:"provider" json:"provider"`
	Email        string        `db:"email" json:"email"`
	AccessToken  string        `db:"access_token" json:"-"`
	RefreshToken string        `db:"refresh_token" json:"-"`
	ExpiresAt    *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	Scopes       StringList    `db:"scopes" json:"scopes"`
	IsPrimary    bool          `db:"is_primary" json:"is_primary"`
	Status       AccountStatus `db:"status" json:"status"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// TokenExpired reports whether the access token is expired or expiring
// within the given skew. A nil ExpiresAt is treated as expired.
func (a *Account) TokenExpired(now time.Time, skew time.Duration) bool {
	if a.AccessToken == "" || a.ExpiresAt == nil {
		return true
	}
	return a.ExpiresAt.Sub(now) <= skew
}

// User owns one or more connected accounts. Emails is the set of all
// addresses the user owns, derived from connected accounts; used
// throughout for "is this me?" checks.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Emails    []string  `db:"-" json:"emails"`
	Name      string    `db:"name" json:"name"`
	Timezone  string    `db:"timezone" json:"timezone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Location resolves the user's IANA timezone, defaulting to UTC when the
// stored name is empty or unparseable.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OwnsEmail reports whether addr belongs to the user (case-insensitive).
func (u *User) OwnsEmail(addr string) bool {
	if equalFold(addr, u.Email) {
		return true
	}
	for _, e := range u.Emails {
		if equalFold(addr, e) {
			return true
		}
	}
	return false
}
