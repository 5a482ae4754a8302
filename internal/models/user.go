package models

import "fmt"

// User is a registered napp author. The password hash never appears in
// public views and is excluded from JSON output.
type User struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Country      string `json:"country,omitempty"`
	PasswordHash string `json:"-"`
	Enabled      bool   `json:"enabled"`
}

func UserKey(username string) string {
	return "user:" + username
}

func (u *User) Key() string {
	return UserKey(u.Username)
}

// TokenListKey is the per-user list holding token keys, most recent first.
func (u *User) TokenListKey() string {
	return u.Key() + ":tokens"
}

// NappSetKey is the per-user membership set of owned napp keys.
func (u *User) NappSetKey() string {
	return u.Key() + ":napps"
}

// Fields returns the stored field-map representation, password included.
func (u *User) Fields() map[string]string {
	return map[string]string{
		"username":   u.Username,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"phone":      u.Phone,
		"city":       u.City,
		"state":      u.State,
		"country":    u.Country,
		"password":   u.PasswordHash,
		"enabled":    encodeBool(u.Enabled),
	}
}

func UserFromFields(fields map[string]string) (*User, error) {
	enabled, err := decodeBool(fields["enabled"])
	if err != nil {
		return nil, fmt.Errorf("decoding user enabled flag: %w", err)
	}

	return &User{
		Username:     fields["username"],
		Email:        fields["email"],
		FirstName:    fields["first_name"],
		LastName:     fields["last_name"],
		Phone:        fields["phone"],
		City:         fields["city"],
		State:        fields["state"],
		Country:      fields["country"],
		PasswordHash: fields["password"],
		Enabled:      enabled,
	}, nil
}
