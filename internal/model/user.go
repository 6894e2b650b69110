package model

import "time"

type Identity struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	PhoneNum     string    `json:"phone_num" db:"phone_num"`
	PasswordHash string    `json:"-" db:"password_hash"`
	RefreshHash  *string   `json:"-" db:"refresh_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HasRefreshSlot reports whether a refresh token hash is currently stored.
func (i Identity) HasRefreshSlot() bool {
	return i.RefreshHash != nil && *i.RefreshHash != ""
}

func (i Identity) AuthUser() AuthUser {
	return AuthUser{ID: i.ID, Username: i.Username, Email: i.Email}
}

type AuthUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	RefreshToken     string   `json:"refresh_token"`
	TokenType        string   `json:"token_type"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshExpiresIn int64    `json:"refresh_expires_in"`
	User             AuthUser `json:"user"`
}

// RegisteredUser is the view of a newly created identity.
type RegisteredUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	PhoneNum  string    `json:"phone_num"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i Identity) Registered() RegisteredUser {
	return RegisteredUser{
		ID:        i.ID,
		Username:  i.Username,
		Email:     i.Email,
		FirstName: i.FirstName,
		LastName:  i.LastName,
		PhoneNum:  i.PhoneNum,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

func (u RegisteredUser) AuthUser() AuthUser {
	return AuthUser{ID: u.ID, Username: u.Username, Email: u.Email}
}
