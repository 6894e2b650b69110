package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go-auth-service/internal/model"
	"go-auth-service/internal/refresh"
	"go-auth-service/internal/repository"
	"go-auth-service/internal/security"
	"go-auth-service/internal/token"
	"go-auth-service/pkg/apierror"
)

const (
	tokenTypeBearer   = "bearer"
	maxLogoutAttempts = 3
)

type Config struct {
	Secret       string
	Algorithm    string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Leeway       time.Duration
	TokenBytes   int
	HashCost     int
	StoreTimeout time.Duration
}

type AuthService struct {
	store        repository.IdentityStore
	hasher       *security.Hasher
	codec        *token.Codec
	issuer       *token.Issuer
	storeTimeout time.Duration
	// dummyHash is compared against when the login identifier is unknown so
	// both failure paths pay for one bcrypt comparison.
	dummyHash string
}

func NewAuthService(cfg Config, store repository.IdentityStore) (*AuthService, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}

	hasher, err := security.NewHasher(cfg.HashCost, cfg.TokenBytes)
	if err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(cfg.Secret, cfg.Algorithm, cfg.Leeway)
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(codec, hasher, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	filler, err := hasher.NewRawToken()
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.HashPassword(filler)
	if err != nil {
		return nil, err
	}

	return &AuthService{
		store:        store,
		hasher:       hasher,
		codec:        codec,
		issuer:       issuer,
		storeTimeout: cfg.StoreTimeout,
		dummyHash:    dummyHash,
	}, nil
}

// Login exchanges a username or email and a password for a token pair. The
// refresh token's hash replaces whatever the identity's slot held; nothing is
// returned unless that write committed.
func (s *AuthService) Login(ctx context.Context, identifier string, password string) (model.TokenPair, error) {
	identifier = strings.TrimSpace(identifier)

	var identity model.Identity
	err := s.withTx(ctx, "login", func(ctx context.Context, tx repository.IdentityTx) error {
		var err error
		identity, err = tx.GetIdentityByLogin(ctx, identifier)
		return err
	})
	if errors.Is(err, model.ErrNotFound) {
		s.hasher.VerifyPassword(password, s.dummyHash)
		return model.TokenPair{}, errInvalidCredentials()
	}
	if err != nil {
		return model.TokenPair{}, s.translate("login", err)
	}

	if !s.hasher.VerifyPassword(password, identity.PasswordHash) {
		slog.Info("login rejected", "user_id", identity.ID, "reason", "password mismatch")
		return model.TokenPair{}, errInvalidCredentials()
	}

	pair, refreshHash, err := s.mintPair(identity)
	if err != nil {
		return model.TokenPair{}, s.translate("login", err)
	}

	err = s.withTx(ctx, "login", func(ctx context.Context, tx repository.IdentityTx) error {
		return refresh.NewStore(tx, s.hasher).Save(ctx, identity.ID, refreshHash)
	})
	if errors.Is(err, model.ErrNotFound) {
		return model.TokenPair{}, errInvalidCredentials()
	}
	if err != nil {
		return model.TokenPair{}, s.translate("login", err)
	}

	slog.Info("login succeeded", "user_id", identity.ID)
	return pair, nil
}

// Refresh rotates a refresh token: the presented token must be the one whose
// hash occupies the slot, and on success the slot holds the new token's hash.
// A token that was rotated away, logged out, or lost a concurrent rotation is
// rejected as unauthorized.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := s.decode(refreshToken, token.KindRefresh)
	if err != nil {
		return model.TokenPair{}, err
	}

	userID, err := claims.UserID()
	if err != nil {
		slog.Warn("refresh rejected", "reason", err.Error())
		return model.TokenPair{}, errUnauthorized("Invalid token")
	}

	var pair model.TokenPair
	err = s.withTx(ctx, "refresh", func(ctx context.Context, tx repository.IdentityTx) error {
		identity, err := tx.GetIdentityByID(ctx, userID)
		if errors.Is(err, model.ErrNotFound) {
			slog.Warn("refresh rejected", "user_id", userID, "reason", "unknown subject")
			return errUnauthorized("Invalid refresh token")
		}
		if err != nil {
			return err
		}

		slots := refresh.NewStore(tx, s.hasher)
		ok, err := slots.Matches(ctx, identity.ID, refreshToken)
		if err != nil {
			return err
		}
		if !ok {
			slog.Warn("refresh rejected", "user_id", userID, "reason", "token does not match stored slot")
			return errUnauthorized("Invalid refresh token")
		}

		minted, refreshHash, err := s.mintPair(identity)
		if err != nil {
			return err
		}
		if err := slots.Save(ctx, identity.ID, refreshHash); err != nil {
			return err
		}

		pair = minted
		return nil
	})
	if errors.Is(err, model.ErrConflict) {
		slog.Warn("refresh rejected", "user_id", userID, "reason", "concurrent rotation")
		return model.TokenPair{}, errUnauthorized("Invalid refresh token")
	}
	if err != nil {
		return model.TokenPair{}, s.translate("refresh", err)
	}

	slog.Info("refresh token rotated", "user_id", userID)
	return pair, nil
}

// Logout empties the identity's refresh slot. Logging out twice succeeds.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	var err error
	for attempt := 1; attempt <= maxLogoutAttempts; attempt++ {
		err = s.withTx(ctx, "logout", func(ctx context.Context, tx repository.IdentityTx) error {
			if _, err := tx.GetIdentityByID(ctx, userID); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return errNotFound("User not found")
				}
				return err
			}
			return refresh.NewStore(tx, s.hasher).Clear(ctx, userID)
		})
		if !errors.Is(err, model.ErrConflict) {
			break
		}
		slog.Debug("logout retrying after concurrent update", "user_id", userID, "attempt", attempt)
	}
	if err != nil {
		return s.translate("logout", err)
	}

	slog.Info("logout succeeded", "user_id", userID)
	return nil
}

// ValidateAccess checks an access token without touching the store and
// returns the identity id it was issued to.
func (s *AuthService) ValidateAccess(tokenString string) (int64, error) {
	claims, err := s.decode(tokenString, token.KindAccess)
	if err != nil {
		return 0, err
	}

	userID, err := claims.UserID()
	if err != nil {
		slog.Debug("access token rejected", "reason", err.Error())
		return 0, errUnauthorized("Invalid token")
	}
	return userID, nil
}

// Register creates an identity with a hashed password. Usernames and emails
// share one namespace: neither may match an existing username or email.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.RegisteredUser, error) {
	identity := model.Identity{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		PhoneNum:  strings.TrimSpace(req.PhoneNum),
	}
	if identity.Username == "" || identity.Email == "" || req.Password == "" {
		return model.RegisteredUser{}, apierror.Of(model.ErrInvalidInput, "BAD_REQUEST", "username, email and password are required", http.StatusBadRequest)
	}
	if !strings.Contains(identity.Email, "@") {
		return model.RegisteredUser{}, apierror.Of(model.ErrInvalidInput, "BAD_REQUEST", "email is invalid", http.StatusBadRequest)
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		slog.Error("password hashing failed", "error", err)
		return model.RegisteredUser{}, apierror.New("INTERNAL_ERROR", "Unexpected server error", "", http.StatusInternalServerError)
	}
	identity.PasswordHash = hash

	err = s.withTx(ctx, "register", func(ctx context.Context, tx repository.IdentityTx) error {
		var err error
		identity, err = tx.CreateIdentity(ctx, identity)
		return err
	})
	if errors.Is(err, model.ErrIdentityExists) {
		return model.RegisteredUser{}, apierror.Of(model.ErrIdentityExists, "ALREADY_EXISTS", "username or email already exists", http.StatusConflict)
	}
	if err != nil {
		return model.RegisteredUser{}, s.translate("register", err)
	}

	slog.Info("identity registered", "user_id", identity.ID, "username", identity.Username)
	return identity.Registered(), nil
}

func (s *AuthService) GetUser(ctx context.Context, userID int64) (model.AuthUser, error) {
	var identity model.Identity
	err := s.withTx(ctx, "get user", func(ctx context.Context, tx repository.IdentityTx) error {
		var err error
		identity, err = tx.GetIdentityByID(ctx, userID)
		return err
	})
	if errors.Is(err, model.ErrNotFound) {
		return model.AuthUser{}, errNotFound("User not found")
	}
	if err != nil {
		return model.AuthUser{}, s.translate("get user", err)
	}
	return identity.AuthUser(), nil
}

func (s *AuthService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

func (s *AuthService) decode(tokenString string, want token.Kind) (*token.Claims, error) {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		slog.Warn("token rejected", "expected_type", string(want), "reason", err.Error())
		if errors.Is(err, token.ErrExpiredToken) {
			return nil, errUnauthorized("Token has expired")
		}
		return nil, errUnauthorized("Invalid Token")
	}

	if claims.Type != want {
		slog.Warn("token rejected", "expected_type", string(want), "reason", "type mismatch", "type", string(claims.Type))
		return nil, errUnauthorized("Invalid token type")
	}
	return claims, nil
}

// mintPair issues both tokens and returns the pair with the refresh token's hash.
func (s *AuthService) mintPair(identity model.Identity) (model.TokenPair, string, error) {
	access, err := s.issuer.IssueAccess(identity)
	if err != nil {
		return model.TokenPair{}, "", fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, err := s.issuer.IssueRefresh(identity)
	if err != nil {
		return model.TokenPair{}, "", fmt.Errorf("issue refresh token: %w", err)
	}

	refreshHash, err := s.hasher.HashToken(refreshToken)
	if err != nil {
		return model.TokenPair{}, "", fmt.Errorf("hash refresh token: %w", err)
	}

	return model.TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(s.issuer.AccessTTL().Seconds()),
		RefreshExpiresIn: int64(s.issuer.RefreshTTL().Seconds()),
		User:             identity.AuthUser(),
	}, refreshHash, nil
}

// withTx runs fn in a transaction bounded by the store timeout. It commits
// when fn succeeds and rolls back otherwise, including when fn panics.
func (s *AuthService) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.IdentityTx) error) (err error) {
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("panic in store transaction", "op", op, "error", fmt.Sprintf("%v", recovered), "stack", string(debug.Stack()))
			err = errPersistence()
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("rollback failed", "op", op, "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// translate maps an error that escaped a store transaction to the public
// taxonomy. Already classified errors pass through.
func (s *AuthService) translate(op string, err error) error {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	slog.Error("auth operation failed", "op", op, "error", err)
	return errPersistence()
}

func errInvalidCredentials() error {
	return apierror.Of(model.ErrInvalidCredentials, "INVALID_CREDENTIALS", "Invalid username/email or password", http.StatusUnauthorized)
}

func errUnauthorized(message string) error {
	return apierror.Of(model.ErrUnauthorized, "UNAUTHORIZED", message, http.StatusUnauthorized)
}

func errNotFound(message string) error {
	return apierror.Of(model.ErrNotFound, "NOT_FOUND", message, http.StatusNotFound)
}

func errPersistence() error {
	return apierror.Of(model.ErrPersistence, "PERSISTENCE_ERROR", "Storage operation failed", http.StatusInternalServerError)
}
