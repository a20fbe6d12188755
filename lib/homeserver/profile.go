// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"

	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// Profile returns the public profile of a local user.
func (s *Server) Profile(ctx context.Context, userID ref.UserID) (storage.Profile, error) {
	if err := s.requireLocal(userID); err != nil {
		return storage.Profile{}, err
	}
	return s.store.Profile(ctx, userID)
}

// DisplayName returns userID's display name, or NotFound if unset.
func (s *Server) DisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.DisplayName == "" {
		return "", matrixerr.New(matrixerr.KindNotFound, "%s has no display name", userID)
	}
	return profile.DisplayName, nil
}

// AvatarURL returns userID's avatar URL, or NotFound if unset.
func (s *Server) AvatarURL(ctx context.Context, userID ref.UserID) (string, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.AvatarURL == "" {
		return "", matrixerr.New(matrixerr.KindNotFound, "%s has no avatar", userID)
	}
	return profile.AvatarURL, nil
}

// requireSelf rejects changes to someone else's account.
func (s *Server) requireSelf(caller, target ref.UserID) error {
	if caller != target {
		return matrixerr.New(matrixerr.KindForbidden, "%s cannot change the account of %s", caller, target)
	}
	return s.requireLocal(target)
}

// SetDisplayName sets the caller's own display name. Member events in
// rooms already joined keep the old name until the next join.
func (s *Server) SetDisplayName(ctx context.Context, caller, target ref.UserID, displayName string) error {
	if err := s.requireSelf(caller, target); err != nil {
		return err
	}
	return s.store.SetDisplayName(ctx, target, displayName)
}

// SetAvatarURL sets the caller's own avatar URL.
func (s *Server) SetAvatarURL(ctx context.Context, caller, target ref.UserID, avatarURL string) error {
	if err := s.requireSelf(caller, target); err != nil {
		return err
	}
	return s.store.SetAvatarURL(ctx, target, avatarURL)
}

// SetPresence sets the caller's own presence.
func (s *Server) SetPresence(ctx context.Context, caller, target ref.UserID, presence storage.Presence) error {
	if err := s.requireSelf(caller, target); err != nil {
		return err
	}
	if !presence.Valid() {
		return matrixerr.New(matrixerr.KindBadJSON, "unknown presence %q", presence)
	}
	return s.store.SetPresence(ctx, target, presence)
}

// AccountData returns one of the caller's account data blobs.
func (s *Server) AccountData(ctx context.Context, caller, target ref.UserID, dataType string) (map[string]any, error) {
	if err := s.requireSelf(caller, target); err != nil {
		return nil, err
	}
	return s.store.AccountData(ctx, target, dataType)
}

// SetAccountData overwrites one of the caller's account data blobs.
func (s *Server) SetAccountData(ctx context.Context, caller, target ref.UserID, dataType string, content map[string]any) error {
	if err := s.requireSelf(caller, target); err != nil {
		return err
	}
	if dataType == "" {
		return matrixerr.New(matrixerr.KindBadJSON, "account data type is required")
	}
	return s.store.SetAccountData(ctx, target, dataType, content)
}

// DirectoryEntry is one user directory search result.
type DirectoryEntry struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// SearchUserDirectory looks up a local user by exact localpart. Terms
// that are not valid localparts, or name nobody, find nothing.
func (s *Server) SearchUserDirectory(ctx context.Context, term string) ([]DirectoryEntry, error) {
	userID, err := s.localUser(term)
	if err != nil {
		return []DirectoryEntry{}, nil
	}
	profile, err := s.store.Profile(ctx, userID)
	if matrixerr.KindOf(err) == matrixerr.KindUserNotFound {
		return []DirectoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []DirectoryEntry{{UserID: userID, DisplayName: profile.DisplayName, AvatarURL: profile.AvatarURL}}, nil
}
