// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/roomauth"
	"github.com/bureau-foundation/homeserver/lib/stateres"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// DefaultMaxSyncTimeout caps how long a sync request may wait when the
// configuration does not set a limit.
const DefaultMaxSyncTimeout = 5 * time.Minute

// DefaultTypingTimeout is how long a typing notification lasts when
// the client does not say.
const DefaultTypingTimeout = 30 * time.Second

// Config holds the dependencies of a Server.
type Config struct {
	// ServerName is the domain of every room and user this server
	// creates. Required.
	ServerName ref.ServerName

	// Store is the persistence backend. Required.
	Store storage.Storage

	// Resolver resolves room state. If nil, a resolver over Store with
	// the default cache size is created.
	Resolver *stateres.Resolver

	// Clock stamps events and drives sync timeouts. Defaults to the
	// real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// MaxSyncTimeout caps the timeout of a sync request. Zero selects
	// DefaultMaxSyncTimeout.
	MaxSyncTimeout time.Duration
}

// Server implements the homeserver operations. It is safe for
// concurrent use.
type Server struct {
	serverName     ref.ServerName
	store          storage.Storage
	resolver       *stateres.Resolver
	clock          clock.Clock
	logger         *slog.Logger
	maxSyncTimeout time.Duration

	roomLocksMu sync.Mutex
	roomLocks   map[ref.RoomID]*sync.Mutex
}

// New creates a Server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.ServerName.IsZero() {
		return nil, fmt.Errorf("homeserver: ServerName is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("homeserver: Store is required")
	}
	if cfg.Resolver == nil {
		resolver, err := stateres.NewResolver(cfg.Store, stateres.DefaultCacheSize)
		if err != nil {
			return nil, fmt.Errorf("homeserver: creating state resolver: %w", err)
		}
		cfg.Resolver = resolver
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxSyncTimeout <= 0 {
		cfg.MaxSyncTimeout = DefaultMaxSyncTimeout
	}
	return &Server{
		serverName:     cfg.ServerName,
		store:          cfg.Store,
		resolver:       cfg.Resolver,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		maxSyncTimeout: cfg.MaxSyncTimeout,
		roomLocks:      make(map[ref.RoomID]*sync.Mutex),
	}, nil
}

// ServerName returns the domain this server is authoritative for.
func (s *Server) ServerName() ref.ServerName { return s.serverName }

// lockRoom takes the append lock of roomID and returns its release.
// Rooms are never deleted, so neither are their locks.
func (s *Server) lockRoom(roomID ref.RoomID) func() {
	s.roomLocksMu.Lock()
	lock, ok := s.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.roomLocks[roomID] = lock
	}
	s.roomLocksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// NewEvent is an event a client proposes: everything but the graph
// fields, which the append path fills in.
type NewEvent struct {
	Sender   ref.UserID
	Type     ref.EventType
	StateKey *string
	Content  map[string]any
	Redacts  ref.EventID
	Unsigned map[string]any
}

// proposal adapts a NewEvent with normalized content to
// roomauth.Candidate.
type proposal struct {
	event   NewEvent
	content map[string]any
}

func (p proposal) Type() ref.EventType     { return p.event.Type }
func (p proposal) Sender() ref.UserID      { return p.event.Sender }
func (p proposal) StateKey() *string       { return p.event.StateKey }
func (p proposal) Content() map[string]any { return p.content }
func (p proposal) Redacts() ref.EventID    { return p.event.Redacts }

// AddEvent authorizes a proposed event against the room's resolved
// state and appends it. It returns the stored PDU.
func (s *Server) AddEvent(ctx context.Context, roomID ref.RoomID, proposed NewEvent) (event.PDU, error) {
	content, err := codec.NormalizeMap(proposed.Content)
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindBadJSON, err, "event content")
	}
	candidate := proposal{event: proposed, content: content}

	unlock := s.lockRoom(roomID)
	defer unlock()

	frontier, err := s.store.Frontier(ctx, roomID)
	if err != nil {
		return nil, err
	}
	state, err := s.resolver.Resolve(ctx, roomID, frontier)
	if err != nil {
		return nil, err
	}
	createContent, err := state.CreateContent()
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "resolved create event of "+roomID.String())
	}
	version := createContent.Version()
	if !version.Supported() {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "room %s has unsupported version %q", roomID, version)
	}

	if err := roomauth.Authorize(candidate, state, s.redactionTargetSender(ctx, roomID)); err != nil {
		s.logger.Debug("event rejected",
			"room_id", roomID,
			"sender", proposed.Sender,
			"type", proposed.Type,
			"error", err,
		)
		return nil, err
	}

	var depth int64
	for _, leaf := range frontier {
		pdu, err := s.store.PDU(ctx, leaf)
		if err != nil {
			return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "loading frontier event "+leaf.String())
		}
		depth = max(depth, pdu.Depth())
	}

	pdu, err := event.Build(version, event.Proto{
		RoomID:         roomID,
		Sender:         proposed.Sender,
		Type:           proposed.Type,
		Content:        content,
		StateKey:       proposed.StateKey,
		Redacts:        proposed.Redacts,
		Origin:         s.serverName,
		OriginServerTS: clock.OriginTS(s.clock),
		PrevEvents:     frontier,
		AuthEvents:     roomauth.SelectAuthEvents(candidate, state),
		Depth:          depth + 1,
		Unsigned:       proposed.Unsigned,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AppendEvent(ctx, pdu); err != nil {
		return nil, err
	}
	s.resolver.Remember(pdu.EventID(), state.With(pdu))
	return pdu, nil
}

// redactionTargetSender resolves the sender of a redaction target in
// roomID. Targets in other rooms are treated as unknown.
func (s *Server) redactionTargetSender(ctx context.Context, roomID ref.RoomID) roomauth.RedactionTargetSender {
	return func(eventID ref.EventID) (ref.UserID, bool) {
		pdu, err := s.store.PDU(ctx, eventID)
		if err != nil || pdu.RoomID() != roomID {
			return ref.UserID{}, false
		}
		return pdu.Sender(), true
	}
}

// resolveState returns the current resolved state of roomID.
func (s *Server) resolveState(ctx context.Context, roomID ref.RoomID) (*stateres.State, error) {
	frontier, err := s.store.Frontier(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, roomID, frontier)
}

// requireLocal rejects users of other servers. Profiles and accounts
// only exist for local users; federation is not implemented.
func (s *Server) requireLocal(userID ref.UserID) error {
	if userID.Server() != s.serverName {
		return matrixerr.New(matrixerr.KindUnknown, "%s is not a user of this server", userID)
	}
	return nil
}
