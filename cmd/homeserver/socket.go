// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/service"
	"github.com/bureau-foundation/homeserver/lib/version"
)

// SupportedVersions is the client API version list the versions
// action reports.
var SupportedVersions = []string{"v1.7"}

// Daemon binds a homeserver to the socket protocol.
type Daemon struct {
	server    *homeserver.Server
	clock     clock.Clock
	startedAt time.Time

	// defaultSyncTimeout applies when a sync request carries no
	// timeout_ms.
	defaultSyncTimeout time.Duration

	logger *slog.Logger
}

// registerActions registers all socket API actions. Public actions use
// Handle; everything else goes through HandleAuth and receives the
// authenticated caller.
func (d *Daemon) registerActions(server *service.SocketServer) {
	server.Handle(service.ActionStatus, d.handleStatus)
	server.Handle(service.ActionVersions, d.handleVersions)
	server.Handle(service.ActionLoginFlows, d.handleLoginFlows)
	server.Handle(service.ActionRegister, d.handleRegister)
	server.Handle(service.ActionLogin, d.handleLogin)
	server.Handle(service.ActionUsernameAvailable, d.handleUsernameAvailable)

	server.HandleAuth(service.ActionWhoami, d.handleWhoami)
	server.HandleAuth(service.ActionLogout, d.handleLogout)
	server.HandleAuth(service.ActionLogoutAll, d.handleLogoutAll)

	// Room lifecycle and membership.
	server.HandleAuth(service.ActionCreateRoom, d.handleCreateRoom)
	server.HandleAuth(service.ActionJoin, d.handleJoin)
	server.HandleAuth(service.ActionInvite, d.handleInvite)
	server.HandleAuth(service.ActionLeave, d.handleLeave)
	server.HandleAuth(service.ActionKick, d.handleKick)
	server.HandleAuth(service.ActionBan, d.handleBan)

	// Event submission.
	server.HandleAuth(service.ActionSend, d.handleSend)
	server.HandleAuth(service.ActionSendState, d.handleSendState)
	server.HandleAuth(service.ActionRedact, d.handleRedact)
	server.HandleAuth(service.ActionTyping, d.handleTyping)

	// Room reads.
	server.HandleAuth(service.ActionEvent, d.handleEvent)
	server.HandleAuth(service.ActionStateEvent, d.handleStateEvent)
	server.HandleAuth(service.ActionState, d.handleState)
	server.HandleAuth(service.ActionMembers, d.handleMembers)
	server.HandleAuth(service.ActionMessages, d.handleMessages)
	server.HandleAuth(service.ActionSync, d.handleSync)

	// Profile, presence and account data.
	server.HandleAuth(service.ActionProfile, d.handleProfile)
	server.HandleAuth(service.ActionSetDisplayName, d.handleSetDisplayName)
	server.HandleAuth(service.ActionSetAvatarURL, d.handleSetAvatarURL)
	server.HandleAuth(service.ActionSetPresence, d.handleSetPresence)
	server.HandleAuth(service.ActionAccountData, d.handleAccountData)
	server.HandleAuth(service.ActionSetAccountData, d.handleSetAccountData)
	server.HandleAuth(service.ActionUserDirectory, d.handleUserDirectory)
}

// authenticate resolves an access token for HandleAuth.
func (d *Daemon) authenticate(ctx context.Context, accessToken string) (service.Caller, error) {
	session, err := d.server.Authenticate(ctx, accessToken)
	if err != nil {
		return service.Caller{}, err
	}
	return service.Caller{UserID: session.UserID, DeviceID: session.DeviceID}, nil
}

// decode unmarshals a request body. Decode failures are the client's
// fault and surface as M_BAD_JSON.
func decode(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return matrixerr.Wrap(matrixerr.KindBadJSON, err, "invalid request")
	}
	return nil
}

func requireRoom(roomID ref.RoomID) error {
	if roomID.IsZero() {
		return matrixerr.New(matrixerr.KindBadJSON, "missing required field room_id")
	}
	return nil
}

func requireUser(userID ref.UserID) error {
	if userID.IsZero() {
		return matrixerr.New(matrixerr.KindBadJSON, "missing required field user_id")
	}
	return nil
}

// targetOrCaller returns target, or the caller when target is unset.
func targetOrCaller(target ref.UserID, caller service.Caller) ref.UserID {
	if target.IsZero() {
		return caller.UserID
	}
	return target
}

// statusResponse is the unauthenticated liveness answer.
type statusResponse struct {
	UptimeSeconds float64        `cbor:"uptime_seconds"`
	ServerName    ref.ServerName `cbor:"server_name"`
	Version       string         `cbor:"version"`
}

func (d *Daemon) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return statusResponse{
		UptimeSeconds: d.clock.Now().Sub(d.startedAt).Seconds(),
		ServerName:    d.server.ServerName(),
		Version:       version.Short(),
	}, nil
}

type versionsResponse struct {
	Versions []string `cbor:"versions"`
}

func (d *Daemon) handleVersions(ctx context.Context, raw []byte) (any, error) {
	return versionsResponse{Versions: SupportedVersions}, nil
}

type loginFlow struct {
	Type string `cbor:"type"`
}

type loginFlowsResponse struct {
	Flows []loginFlow `cbor:"flows"`
}

func (d *Daemon) handleLoginFlows(ctx context.Context, raw []byte) (any, error) {
	var response loginFlowsResponse
	for _, flowType := range d.server.LoginFlows() {
		response.Flows = append(response.Flows, loginFlow{Type: flowType})
	}
	return response, nil
}

func (d *Daemon) handleRegister(ctx context.Context, raw []byte) (any, error) {
	var request homeserver.RegisterRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	credentials, err := d.server.Register(ctx, request)
	if err != nil {
		return nil, err
	}
	d.logger.Info("registered account", "user_id", credentials.UserID, "device_id", credentials.DeviceID)
	return credentials, nil
}

func (d *Daemon) handleLogin(ctx context.Context, raw []byte) (any, error) {
	var request homeserver.LoginRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	credentials, err := d.server.Login(ctx, request)
	if err != nil {
		return nil, err
	}
	d.logger.Info("login", "user_id", credentials.UserID, "device_id", credentials.DeviceID)
	return credentials, nil
}

type usernameAvailableRequest struct {
	Username string `cbor:"username"`
}

type usernameAvailableResponse struct {
	Available bool `cbor:"available"`
}

func (d *Daemon) handleUsernameAvailable(ctx context.Context, raw []byte) (any, error) {
	var request usernameAvailableRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	available, err := d.server.UsernameAvailable(ctx, request.Username)
	if err != nil {
		return nil, err
	}
	return usernameAvailableResponse{Available: available}, nil
}

type whoamiResponse struct {
	UserID   ref.UserID `cbor:"user_id"`
	DeviceID string     `cbor:"device_id,omitempty"`
}

func (d *Daemon) handleWhoami(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	return whoamiResponse{UserID: caller.UserID, DeviceID: caller.DeviceID}, nil
}

func (d *Daemon) handleLogout(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	if err := d.server.Logout(ctx, caller.AccessToken); err != nil {
		return nil, err
	}
	d.logger.Info("logout", "user_id", caller.UserID, "device_id", caller.DeviceID)
	return nil, nil
}

func (d *Daemon) handleLogoutAll(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	if err := d.server.LogoutAll(ctx, caller.AccessToken); err != nil {
		return nil, err
	}
	d.logger.Info("logout all devices", "user_id", caller.UserID)
	return nil, nil
}
