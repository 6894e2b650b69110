package token

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-auth-service/internal/model"
)

type idGenerator interface {
	NewRawToken() (string, error)
}

type Issuer struct {
	codec      *Codec
	ids        idGenerator
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(codec *Codec, ids idGenerator, accessTTL time.Duration, refreshTTL time.Duration) (*Issuer, error) {
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive (access=%s, refresh=%s)", accessTTL, refreshTTL)
	}

	return &Issuer{
		codec:      codec,
		ids:        ids,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *Issuer) IssueAccess(identity model.Identity) (string, error) {
	return i.issue(identity, KindAccess, i.accessTTL)
}

func (i *Issuer) IssueRefresh(identity model.Identity) (string, error) {
	return i.issue(identity, KindRefresh, i.refreshTTL)
}

func (i *Issuer) issue(identity model.Identity, kind Kind, ttl time.Duration) (string, error) {
	jti, err := i.ids.NewRawToken()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := i.now().UTC()
	return i.codec.Encode(Claims{
		Email:    identity.Email,
		Username: identity.Username,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identity.ID, 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}
