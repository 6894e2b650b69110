package token

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the payload carried by access and refresh tokens. The subject is
// the identity id in decimal form.
type Claims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Type     Kind   `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject %q: %w", c.Subject, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("subject %d is not a valid identity id", id)
	}
	return id, nil
}
