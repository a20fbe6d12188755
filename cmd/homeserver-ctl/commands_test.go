// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/service"
	"github.com/bureau-foundation/homeserver/lib/testutil"
)

const testToken = "token-alice"

var testAlice = ref.MustParseUserID("@alice:test.local")

// fakeDaemon serves canned responses and records each request's
// fields by action.
type fakeDaemon struct {
	socketPath string

	mu       sync.Mutex
	requests map[string]map[string]any
}

func newFakeDaemon(t *testing.T, handlers map[string]service.ActionFunc) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{
		socketPath: filepath.Join(testutil.SocketDir(t), "homeserver.sock"),
		requests:   make(map[string]map[string]any),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	server := service.NewSocketServer(d.socketPath, logger, func(ctx context.Context, token string) (service.Caller, error) {
		if token != testToken {
			return service.Caller{}, matrixerr.New(matrixerr.KindUnknownToken, "unknown token")
		}
		return service.Caller{UserID: testAlice, DeviceID: "DEVICE01"}, nil
	})
	for action, handler := range handlers {
		server.Handle(action, d.record(action, handler))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	for {
		if _, err := os.Stat(d.socketPath); err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear", d.socketPath)
		}
		runtime.Gosched()
	}
	return d
}

func (d *fakeDaemon) record(action string, handler service.ActionFunc) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var fields map[string]any
		if err := codec.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.requests[action] = fields
		d.mu.Unlock()
		return handler(ctx, raw)
	}
}

func (d *fakeDaemon) request(t *testing.T, action string) map[string]any {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	fields, ok := d.requests[action]
	if !ok {
		t.Fatalf("no %s request recorded", action)
	}
	return fields
}

func respond(result any) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) { return result, nil }
}

// execute runs homeserver-ctl with args against d and returns stdout.
func (d *fakeDaemon) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &App{
		stdout: &stdout,
		stderr: &stderr,
		stdin:  os.Stdin,
		clock:  clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		logger: slog.New(slog.NewTextHandler(&stderr, nil)),
	}
	args = append(args, "--socket", d.socketPath, "--token", testToken)
	err := app.Root().Execute(context.Background(), args, &stderr)
	return stdout.String(), err
}

func TestSendTextMessage(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionSend: respond(map[string]any{"event_id": "$event1"}),
	})

	stdout, err := d.execute(t, "send", "!room:test.local", "hello", "world", "--txn-id", "txn-7")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if stdout != "$event1\n" {
		t.Errorf("stdout = %q", stdout)
	}

	fields := d.request(t, service.ActionSend)
	if fields["room_id"] != "!room:test.local" || fields["type"] != "m.room.message" || fields["txn_id"] != "txn-7" {
		t.Errorf("fields = %v", fields)
	}
	if fields["access_token"] != testToken {
		t.Errorf("access_token = %v", fields["access_token"])
	}
	content, _ := fields["content"].(map[string]any)
	if content["body"] != "hello world" || content["msgtype"] != "m.text" {
		t.Errorf("content = %v", content)
	}
}

func TestSendGeneratesTransactionID(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionSend: respond(map[string]any{"event_id": "$event1"}),
	})

	if _, err := d.execute(t, "send", "!room:test.local", "--type", "org.example.ping", "--content", `{"seq": 1}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	fields := d.request(t, service.ActionSend)
	if txnID, _ := fields["txn_id"].(string); len(txnID) != 36 {
		t.Errorf("txn_id = %q, want a UUID", txnID)
	}
	if fields["type"] != "org.example.ping" {
		t.Errorf("type = %v", fields["type"])
	}

	if _, err := d.execute(t, "send", "!room:test.local"); err == nil {
		t.Error("send with no body or content: expected error")
	}
}

func TestRegisterPrintsToken(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionRegister: respond(homeserver.Credentials{
			UserID:      testAlice,
			AccessToken: "new-token",
			DeviceID:    "LAPTOP",
		}),
	})

	passwordFile := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(passwordFile, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, err := d.execute(t, "register", "alice", "--password-file", passwordFile, "--device-id", "LAPTOP")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(stdout, "Registered @alice:test.local (device LAPTOP)") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "HOMESERVER_TOKEN=new-token") {
		t.Errorf("stdout does not carry the token: %q", stdout)
	}

	fields := d.request(t, service.ActionRegister)
	if fields["username"] != "alice" || fields["password"] != "hunter2" || fields["device_id"] != "LAPTOP" {
		t.Errorf("fields = %v", fields)
	}
}

func TestAvailableExitCode(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionUsernameAvailable: func(ctx context.Context, raw []byte) (any, error) {
			var request struct {
				Username string `cbor:"username"`
			}
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return map[string]any{"available": request.Username != "alice"}, nil
		},
	})

	if stdout, err := d.execute(t, "available", "bob"); err != nil || stdout != "bob is available\n" {
		t.Errorf("available bob = %q, %v", stdout, err)
	}

	stdout, err := d.execute(t, "available", "alice")
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("available alice: err = %v, want exit code 1", err)
	}
	if stdout != "alice is taken\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestMessagesPage(t *testing.T) {
	body := "second"
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionMessages: respond(map[string]any{
			"start": "12",
			"end":   "10",
			"chunk": []any{
				map[string]any{
					"event_id":         "$second",
					"type":             "m.room.message",
					"sender":           "@alice:test.local",
					"origin_server_ts": int64(1767225600000),
					"content":          map[string]any{"msgtype": "m.text", "body": body},
				},
			},
		}),
	})

	stdout, err := d.execute(t, "messages", "!room:test.local", "-n", "5", "--senders", "@alice:test.local")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	for _, want := range []string{"2026-01-01T00:00:00Z", "$second", "@alice:test.local", body, "next page: --from 10"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}

	fields := d.request(t, service.ActionMessages)
	if fields["dir"] != "b" || fields["limit"] != uint64(5) {
		t.Errorf("fields = %v", fields)
	}
	if senders, _ := fields["senders"].([]any); len(senders) != 1 || senders[0] != "@alice:test.local" {
		t.Errorf("senders = %v", fields["senders"])
	}
	if _, ok := fields["types"]; ok {
		t.Error("empty --types filter was sent")
	}
}

func TestRoomCreateWithInitialState(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionCreateRoom: respond(map[string]any{"room_id": "!new:test.local"}),
	})

	stdout, err := d.execute(t, "room", "create",
		"--preset", "public_chat",
		"--invite", "@bob:test.local",
		"--initial-state", `{"m.room.topic": {"topic": "plans"}, "org.example.tag/x": {"v": 1}}`,
	)
	if err != nil {
		t.Fatalf("room create: %v", err)
	}
	if stdout != "!new:test.local\n" {
		t.Errorf("stdout = %q", stdout)
	}

	fields := d.request(t, service.ActionCreateRoom)
	if fields["preset"] != "public_chat" {
		t.Errorf("preset = %v", fields["preset"])
	}
	initialState, _ := fields["initial_state"].([]any)
	if len(initialState) != 2 {
		t.Fatalf("initial_state = %v", fields["initial_state"])
	}
	first, _ := initialState[0].(map[string]any)
	second, _ := initialState[1].(map[string]any)
	if first["type"] != "m.room.topic" || first["state_key"] != "" {
		t.Errorf("first initial state event = %v", first)
	}
	if second["type"] != "org.example.tag" || second["state_key"] != "x" {
		t.Errorf("second initial state event = %v", second)
	}
}

func TestMembershipCommands(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionKick: respond(map[string]any{"event_id": "$kick"}),
		service.ActionJoin: func(ctx context.Context, raw []byte) (any, error) {
			return nil, matrixerr.New(matrixerr.KindUserBanned, "@alice:test.local is banned")
		},
	})

	if stdout, err := d.execute(t, "room", "kick", "!room:test.local", "@bob:test.local", "--reason", "spam"); err != nil || stdout != "$kick\n" {
		t.Fatalf("kick = %q, %v", stdout, err)
	}
	fields := d.request(t, service.ActionKick)
	if fields["user_id"] != "@bob:test.local" || fields["reason"] != "spam" {
		t.Errorf("kick fields = %v", fields)
	}

	if _, err := d.execute(t, "room", "kick", "!room:test.local"); err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Errorf("kick without target: err = %v, want usage error", err)
	}

	_, err := d.execute(t, "room", "join", "!room:test.local")
	if !errors.Is(err, matrixerr.ErrForbidden) {
		t.Errorf("join: err = %v, want M_FORBIDDEN", err)
	}
}

func TestSyncOnce(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{
		service.ActionSync: respond(map[string]any{
			"next_batch": "batch-2",
			"rooms": map[string]any{
				"join": map[string]any{
					"!room:test.local": map[string]any{
						"timeline": map[string]any{
							"events": []any{
								map[string]any{
									"event_id":         "$hello",
									"type":             "m.room.message",
									"sender":           "@bob:test.local",
									"origin_server_ts": int64(0),
									"content":          map[string]any{"body": "hi alice"},
								},
							},
						},
					},
				},
				"invite": map[string]any{
					"!party:test.local": map[string]any{"invite_state": map[string]any{"events": []any{}}},
				},
			},
		}),
	})

	stdout, err := d.execute(t, "sync", "--since", "batch-1", "--timeout", "0s")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	for _, want := range []string{"!party:test.local: invited", "!room:test.local: ", "hi alice", "next_batch: batch-2"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}

	fields := d.request(t, service.ActionSync)
	if fields["since"] != "batch-1" || fields["timeout_ms"] != uint64(0) {
		t.Errorf("sync fields = %v", fields)
	}
}

func TestUnknownActionSurfaces(t *testing.T) {
	d := newFakeDaemon(t, map[string]service.ActionFunc{})
	app := &App{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, clock: clock.Real(), logger: slog.Default()}
	err := app.Root().Execute(context.Background(),
		[]string{"whoami", "--socket", d.socketPath, "--token", "stale"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error")
	}
	// whoami is not registered on this daemon.
	if matrixerr.KindOf(err) != matrixerr.KindUnimplemented {
		t.Errorf("kind = %v, want unimplemented", matrixerr.KindOf(err))
	}
}
