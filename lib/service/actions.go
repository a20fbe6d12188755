// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

// Action names of the homeserver socket protocol. Every action except
// those in [PublicActions] requires an "access_token" field.
const (
	ActionStatus            = "status"
	ActionVersions          = "versions"
	ActionLoginFlows        = "login_flows"
	ActionRegister          = "register"
	ActionLogin             = "login"
	ActionUsernameAvailable = "username_available"

	ActionWhoami    = "whoami"
	ActionLogout    = "logout"
	ActionLogoutAll = "logout_all"

	ActionCreateRoom = "create_room"
	ActionJoin       = "join"
	ActionInvite     = "invite"
	ActionLeave      = "leave"
	ActionKick       = "kick"
	ActionBan        = "ban"

	ActionSend      = "send"
	ActionSendState = "send_state"
	ActionRedact    = "redact"
	ActionTyping    = "typing"

	ActionEvent      = "event"
	ActionStateEvent = "state_event"
	ActionState      = "state"
	ActionMembers    = "members"
	ActionMessages   = "messages"

	ActionProfile        = "profile"
	ActionSetDisplayName = "set_displayname"
	ActionSetAvatarURL   = "set_avatar_url"
	ActionSetPresence    = "set_presence"
	ActionAccountData    = "account_data"
	ActionSetAccountData = "set_account_data"
	ActionUserDirectory  = "user_directory_search"
)

// PublicActions are served without an access token.
var PublicActions = []string{
	ActionStatus,
	ActionVersions,
	ActionLoginFlows,
	ActionRegister,
	ActionLogin,
	ActionUsernameAvailable,
}
