// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantLocalpart string
		wantServer    string
		wantErr       error
	}{
		{
			name:          "simple",
			input:         "@alice:example.org",
			wantLocalpart: "alice",
			wantServer:    "example.org",
		},
		{
			name:          "port preserved in server",
			input:         "@name:test:8000",
			wantLocalpart: "name",
			wantServer:    "test:8000",
		},
		{
			name:          "all permitted symbols",
			input:         "@a-b_c.d=e/f9:example.org",
			wantLocalpart: "a-b_c.d=e/f9",
			wantServer:    "example.org",
		},
		{
			name:          "ipv6 server",
			input:         "@bob:[::1]:6167",
			wantLocalpart: "bob",
			wantServer:    "[::1]:6167",
		},
		{
			name:    "missing at sign",
			input:   "alice:example.org",
			wantErr: ErrNoSigil,
		},
		{
			name:    "room sigil",
			input:   "!alice:example.org",
			wantErr: ErrNoSigil,
		},
		{
			name:    "no colon",
			input:   "@alice",
			wantErr: ErrMissingColon,
		},
		{
			name:    "uppercase localpart",
			input:   "@Alice:example.org",
			wantErr: ErrInvalidChar,
		},
		{
			name:    "space in localpart",
			input:   "@al ice:example.org",
			wantErr: ErrInvalidChar,
		},
		{
			name:    "empty localpart",
			input:   "@:example.org",
			wantErr: ErrEmptyLocalpart,
		},
		{
			name:    "bad server character",
			input:   "@alice:exa_mple.org",
			wantErr: ErrInvalidServerName,
		},
		{
			name:    "extra colon",
			input:   "@alice:example.org:80:80",
			wantErr: ErrInvalidServerName,
		},
		{
			name:    "port too long",
			input:   "@alice:example.org:123456",
			wantErr: ErrInvalidServerName,
		},
		{
			name:    "too long",
			input:   "@" + strings.Repeat("a", 243) + ":example.org",
			wantErr: ErrTooLong,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			userID, err := ParseUserID(test.input)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("ParseUserID(%q) error = %v, want errors.Is %v", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUserID(%q): %v", test.input, err)
			}
			if userID.Localpart() != test.wantLocalpart {
				t.Errorf("Localpart() = %q, want %q", userID.Localpart(), test.wantLocalpart)
			}
			if userID.Server().String() != test.wantServer {
				t.Errorf("Server() = %q, want %q", userID.Server(), test.wantServer)
			}

			reparsed, err := ParseUserID(userID.String())
			if err != nil {
				t.Fatalf("re-parse %q: %v", userID, err)
			}
			if reparsed != userID {
				t.Errorf("round-trip: got %#v, want %#v", reparsed, userID)
			}
		})
	}
}

func TestUserIDLengthBoundary(t *testing.T) {
	server := MustParseServerName("example.org")
	// "@" + localpart + ":" + "example.org" is exactly 255 bytes.
	localpart := strings.Repeat("a", 255-2-len("example.org"))
	if _, err := NewUserID(localpart, server); err != nil {
		t.Fatalf("255-byte user ID rejected: %v", err)
	}
	if _, err := NewUserID(localpart+"a", server); !errors.Is(err, ErrTooLong) {
		t.Fatalf("256-byte user ID: error = %v, want ErrTooLong", err)
	}
}

func TestNewUserID(t *testing.T) {
	server := MustParseServerName("example.org")
	userID, err := NewUserID("carol", server)
	if err != nil {
		t.Fatalf("NewUserID: %v", err)
	}
	if userID.String() != "@carol:example.org" {
		t.Errorf("String() = %q", userID)
	}
	if _, err := NewUserID("Carol", server); !errors.Is(err, ErrInvalidChar) {
		t.Errorf("NewUserID(Carol) error = %v, want ErrInvalidChar", err)
	}
	if _, err := NewUserID("carol", ServerName{}); !errors.Is(err, ErrInvalidServerName) {
		t.Errorf("NewUserID with zero server: error = %v, want ErrInvalidServerName", err)
	}
}

func TestParseLocalpart(t *testing.T) {
	server := MustParseServerName("example.org")
	if _, err := ParseLocalpart("dave", server); err != nil {
		t.Errorf("ParseLocalpart(dave): %v", err)
	}
	if _, err := ParseLocalpart("", server); !errors.Is(err, ErrEmptyLocalpart) {
		t.Errorf("ParseLocalpart(\"\") error = %v, want ErrEmptyLocalpart", err)
	}
	if _, err := ParseLocalpart("dave!", server); !errors.Is(err, ErrInvalidChar) {
		t.Errorf("ParseLocalpart(dave!) error = %v, want ErrInvalidChar", err)
	}
	if _, err := ParseLocalpart(strings.Repeat("d", 250), server); !errors.Is(err, ErrTooLong) {
		t.Errorf("oversized localpart error = %v, want ErrTooLong", err)
	}
}

func TestUserIDJSON(t *testing.T) {
	type wrapper struct {
		Sender UserID `json:"sender"`
	}
	data, err := json.Marshal(wrapper{Sender: MustParseUserID("@test:local")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"sender":"@test:local"}` {
		t.Errorf("Marshal = %s", data)
	}
	var decoded wrapper
	if err := json.Unmarshal([]byte(`{"sender":"@TEST:local"}`), &decoded); !errors.Is(err, ErrInvalidChar) {
		t.Errorf("Unmarshal invalid sender: error = %v, want ErrInvalidChar", err)
	}
}
