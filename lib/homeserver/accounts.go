// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// LoginTypePassword is the only supported login flow.
const LoginTypePassword = "m.login.password"

// IdentifierTypeUser identifies the user by localpart or full ID.
const IdentifierTypeUser = "m.id.user"

// AccountKind distinguishes guest registrations from regular ones.
type AccountKind string

const (
	AccountKindUser  AccountKind = "user"
	AccountKindGuest AccountKind = "guest"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	// Username is the localpart. Empty generates a random one.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// DeviceID defaults to eight random uppercase hex digits.
	DeviceID string `json:"device_id,omitempty"`
	// InhibitLogin registers without issuing an access token.
	InhibitLogin bool        `json:"inhibit_login,omitempty"`
	Kind         AccountKind `json:"kind,omitempty"`
}

// Credentials is the result of a registration or login. AccessToken
// and DeviceID are empty for an inhibited login.
type Credentials struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token,omitempty"`
	DeviceID    string     `json:"device_id,omitempty"`
}

// UserIdentifier names the account logging in.
type UserIdentifier struct {
	Type string `json:"type"`
	// User is a bare localpart or a full user ID.
	User string `json:"user"`
}

// LoginRequest authenticates with a password.
type LoginRequest struct {
	Type       string         `json:"type"`
	Identifier UserIdentifier `json:"identifier"`
	Password   string         `json:"password,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
}

// LoginFlows returns the supported login types.
func (s *Server) LoginFlows() []string {
	return []string{LoginTypePassword}
}

// Register creates an account and, unless InhibitLogin is set, logs it
// in.
func (s *Server) Register(ctx context.Context, request RegisterRequest) (Credentials, error) {
	if request.Kind == AccountKindGuest {
		return Credentials{}, matrixerr.New(matrixerr.KindUnimplemented, "guest registration is not supported")
	}
	if request.Kind != "" && request.Kind != AccountKindUser {
		return Credentials{}, matrixerr.New(matrixerr.KindBadJSON, "unknown account kind %q", request.Kind)
	}
	if request.Password == "" {
		return Credentials{}, matrixerr.New(matrixerr.KindBadJSON, "missing password")
	}

	localpart := request.Username
	if localpart == "" {
		generated, err := randomLocalpart()
		if err != nil {
			return Credentials{}, matrixerr.Wrap(matrixerr.KindInternal, err, "generating username")
		}
		localpart = generated
	}
	userID, err := s.localUser(localpart)
	if err != nil {
		return Credentials{}, err
	}

	if err := s.store.CreateUser(ctx, userID, []byte(request.Password)); err != nil {
		return Credentials{}, err
	}
	s.logger.Info("user registered", "user_id", userID)

	if request.InhibitLogin {
		return Credentials{UserID: userID}, nil
	}
	return s.issueToken(ctx, userID, request.DeviceID)
}

// Login exchanges a password for an access token. A wrong password
// and an unknown user both fail with Forbidden.
func (s *Server) Login(ctx context.Context, request LoginRequest) (Credentials, error) {
	if request.Type != "" && request.Type != LoginTypePassword {
		return Credentials{}, matrixerr.New(matrixerr.KindUnimplemented, "login type %q is not supported", request.Type)
	}
	if request.Identifier.Type != "" && request.Identifier.Type != IdentifierTypeUser {
		return Credentials{}, matrixerr.New(matrixerr.KindUnimplemented, "identifier type %q is not supported", request.Identifier.Type)
	}
	if request.Password == "" {
		return Credentials{}, matrixerr.New(matrixerr.KindUnimplemented, "only password login is supported")
	}

	userID, err := s.identifiedUser(request.Identifier.User)
	if err != nil {
		return Credentials{}, err
	}
	ok, err := s.store.VerifyPassword(ctx, userID, []byte(request.Password))
	if err != nil {
		return Credentials{}, err
	}
	if !ok {
		return Credentials{}, matrixerr.New(matrixerr.KindForbidden, "invalid username or password")
	}

	credentials, err := s.issueToken(ctx, userID, request.DeviceID)
	if err != nil {
		return Credentials{}, err
	}
	s.logger.Info("user logged in", "user_id", userID, "device_id", credentials.DeviceID)
	return credentials, nil
}

// Logout invalidates accessToken.
func (s *Server) Logout(ctx context.Context, accessToken string) error {
	return s.store.DeleteAccessToken(ctx, accessToken)
}

// LogoutAll invalidates every access token of the user owning
// accessToken.
func (s *Server) LogoutAll(ctx context.Context, accessToken string) error {
	return s.store.DeleteAllAccessTokens(ctx, accessToken)
}

// Authenticate resolves an access token to its session.
func (s *Server) Authenticate(ctx context.Context, accessToken string) (storage.Session, error) {
	if accessToken == "" {
		return storage.Session{}, matrixerr.New(matrixerr.KindMissingToken, "missing access token")
	}
	session, ok, err := s.store.ResolveAccessToken(ctx, accessToken)
	if err != nil {
		return storage.Session{}, err
	}
	if !ok {
		return storage.Session{}, matrixerr.New(matrixerr.KindUnknownToken, "unrecognised access token")
	}
	return session, nil
}

// UsernameAvailable reports whether localpart can be registered. An
// invalid localpart is BadJSON.
func (s *Server) UsernameAvailable(ctx context.Context, localpart string) (bool, error) {
	userID, err := s.localUser(localpart)
	if err != nil {
		return false, err
	}
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// TestUsers are the accounts SeedTestUsers creates.
var TestUsers = []string{"alice", "bob", "carol"}

// TestUserPassword is the password of every seeded test user.
const TestUserPassword = "password"

// SeedTestUsers creates the development accounts. Accounts that
// already exist are left alone.
func (s *Server) SeedTestUsers(ctx context.Context) error {
	for _, localpart := range TestUsers {
		userID, err := s.localUser(localpart)
		if err != nil {
			return err
		}
		err = s.store.CreateUser(ctx, userID, []byte(TestUserPassword))
		if matrixerr.KindOf(err) == matrixerr.KindUsernameTaken {
			continue
		}
		if err != nil {
			return err
		}
		s.logger.Info("seeded test user", "user_id", userID)
	}
	return nil
}

func (s *Server) issueToken(ctx context.Context, userID ref.UserID, deviceID string) (Credentials, error) {
	if deviceID == "" {
		generated, err := randomDeviceID()
		if err != nil {
			return Credentials{}, matrixerr.Wrap(matrixerr.KindInternal, err, "generating device ID")
		}
		deviceID = generated
	}
	token, err := s.store.CreateAccessToken(ctx, userID, deviceID)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{UserID: userID, AccessToken: token, DeviceID: deviceID}, nil
}

// localUser builds a user ID of this server from a registration
// localpart.
func (s *Server) localUser(localpart string) (ref.UserID, error) {
	if _, err := ref.ParseLocalpart(localpart, s.serverName); err != nil {
		return ref.UserID{}, matrixerr.Wrap(matrixerr.KindBadJSON, err, "username")
	}
	userID, err := ref.NewUserID(localpart, s.serverName)
	if err != nil {
		return ref.UserID{}, matrixerr.Wrap(matrixerr.KindBadJSON, err, "username")
	}
	return userID, nil
}

// identifiedUser accepts a full user ID of this server or a bare
// localpart. Users of other servers cannot log in here.
func (s *Server) identifiedUser(identifier string) (ref.UserID, error) {
	if !strings.HasPrefix(identifier, "@") {
		return s.localUser(identifier)
	}
	userID, err := ref.ParseUserID(identifier)
	if err != nil {
		return ref.UserID{}, matrixerr.Wrap(matrixerr.KindBadJSON, err, "identifier")
	}
	if userID.Server() != s.serverName {
		return ref.UserID{}, matrixerr.New(matrixerr.KindForbidden, "%s is not a user of this server", userID)
	}
	return userID, nil
}

func randomDeviceID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%08X", binary.BigEndian.Uint32(buf[:])), nil
}

func randomLocalpart() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "user-" + hex.EncodeToString(buf[:]), nil
}
