// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlstore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

func insertEvent(conn *sqlite.Conn, pdu event.PDU, index int64) error {
	found, err := exists(conn, "SELECT 1 FROM events WHERE event_id = ?", pdu.EventID().String())
	if err != nil {
		return err
	}
	if found {
		return matrixerr.New(matrixerr.KindInvalidEvent, "event %s already stored", pdu.EventID())
	}
	data, err := event.Encode(pdu)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding %s: %w", pdu.EventID(), err)
	}
	return sqlitex.Execute(conn, "INSERT INTO events (event_id, room_id, idx, pdu) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{pdu.EventID().String(), pdu.RoomID().String(), index, data},
	})
}

func (s *Store) CreateRoom(ctx context.Context, create event.PDU) (ref.EventID, error) {
	if err := storage.CheckCreate(create); err != nil {
		return ref.EventID{}, err
	}
	roomID := create.RoomID().String()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		found, err := exists(conn, "SELECT 1 FROM rooms WHERE room_id = ?", roomID)
		if err != nil {
			return err
		}
		if found {
			return matrixerr.New(matrixerr.KindInvalidEvent, "room %s already exists", create.RoomID())
		}
		if err := sqlitex.Execute(conn, "INSERT INTO rooms (room_id) VALUES (?)", &sqlitex.ExecOptions{Args: []any{roomID}}); err != nil {
			return err
		}
		if err := insertEvent(conn, create, 0); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "INSERT INTO leaves (room_id, event_id) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{roomID, create.EventID().String()},
		})
	})
	if err != nil {
		return ref.EventID{}, err
	}
	s.logger.Debug("room created", "room_id", roomID, "event_id", create.EventID())
	return create.EventID(), nil
}

func (s *Store) AppendEvent(ctx context.Context, pdu event.PDU) (ref.EventID, error) {
	if err := storage.CheckAppend(pdu); err != nil {
		return ref.EventID{}, err
	}
	roomID := pdu.RoomID().String()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := requireRoom(conn, pdu.RoomID()); err != nil {
			return err
		}
		var next int64
		err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM events WHERE room_id = ?", &sqlitex.ExecOptions{
			Args: []any{roomID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				next = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if err := insertEvent(conn, pdu, next); err != nil {
			return err
		}
		for _, prev := range pdu.PrevEvents() {
			if err := sqlitex.Execute(conn, "DELETE FROM leaves WHERE room_id = ? AND event_id = ?", &sqlitex.ExecOptions{
				Args: []any{roomID, prev.String()},
			}); err != nil {
				return err
			}
		}
		if err := sqlitex.Execute(conn, "INSERT INTO leaves (room_id, event_id) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{roomID, pdu.EventID().String()},
		}); err != nil {
			return err
		}
		if pdu.Type() == event.TypeRedaction {
			return sqlitex.Execute(conn, "UPDATE events SET redacted_by = ? WHERE event_id = ? AND room_id = ? AND redacted_by IS NULL", &sqlitex.ExecOptions{
				Args: []any{pdu.EventID().String(), pdu.Redacts().String(), roomID},
			})
		}
		return nil
	})
	if err != nil {
		return ref.EventID{}, err
	}
	s.notifier.Notify(pdu.RoomID())
	return pdu.EventID(), nil
}

func (s *Store) Frontier(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	var frontier []ref.EventID
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		if err := requireRoom(conn, roomID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT event_id FROM leaves WHERE room_id = ? ORDER BY event_id", &sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				eventID, err := ref.ParseEventID(stmt.ColumnText(0))
				if err != nil {
					return matrixerr.Wrap(matrixerr.KindInternal, err, "stored leaf")
				}
				frontier = append(frontier, eventID)
				return nil
			},
		})
	})
	return frontier, err
}

// Subscribe returns roomID's current wake channel.
func (s *Store) Subscribe(roomID ref.RoomID) <-chan struct{} {
	return s.notifier.Subscribe(roomID)
}

func (s *Store) Rooms(ctx context.Context) ([]ref.RoomID, error) {
	var rooms []ref.RoomID
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT room_id FROM rooms ORDER BY room_id", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
				if err != nil {
					return matrixerr.Wrap(matrixerr.KindInternal, err, "stored room")
				}
				rooms = append(rooms, roomID)
				return nil
			},
		})
	})
	return rooms, err
}

// storedEvent is one events row: the original and the ID of the
// redaction that redacted it, if any.
type storedEvent struct {
	pdu        event.PDU
	redactedBy string
}

func scanEvent(stmt *sqlite.Stmt) (storedEvent, error) {
	pdu, err := event.Decode(columnBytes(stmt, 0))
	if err != nil {
		return storedEvent{}, matrixerr.Wrap(matrixerr.KindInternal, err, "decoding stored event")
	}
	row := storedEvent{pdu: pdu}
	if !stmt.ColumnIsNull(1) {
		row.redactedBy = stmt.ColumnText(1)
	}
	return row, nil
}

func loadEvent(conn *sqlite.Conn, eventID string) (storedEvent, bool, error) {
	var (
		row   storedEvent
		found bool
	)
	err := sqlitex.Execute(conn, "SELECT pdu, redacted_by FROM events WHERE event_id = ?", &sqlitex.ExecOptions{
		Args: []any{eventID},
		ResultFunc: func(stmt *sqlite.Stmt) (err error) {
			row, err = scanEvent(stmt)
			found = err == nil
			return err
		},
	})
	return row, found, err
}

// view returns the client view of a row, loading its redaction on the
// same connection when there is one.
func view(conn *sqlite.Conn, row storedEvent) (event.PDU, error) {
	if row.redactedBy == "" {
		return row.pdu, nil
	}
	redaction, found, err := loadEvent(conn, row.redactedBy)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, matrixerr.New(matrixerr.KindInternal, "redaction %s of %s is missing", row.redactedBy, row.pdu.EventID())
	}
	return storage.RedactedView(row.pdu, redaction.pdu)
}

func (s *Store) Event(ctx context.Context, eventID ref.EventID) (event.PDU, error) {
	var pdu event.PDU
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		row, found, err := loadEvent(conn, eventID.String())
		if err != nil {
			return err
		}
		if !found {
			return matrixerr.New(matrixerr.KindNotFound, "event %s not found", eventID)
		}
		pdu, err = view(conn, row)
		return err
	})
	return pdu, err
}

func (s *Store) PDU(ctx context.Context, eventID ref.EventID) (event.PDU, error) {
	var pdu event.PDU
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		row, found, err := loadEvent(conn, eventID.String())
		if err != nil {
			return err
		}
		if !found {
			return matrixerr.New(matrixerr.KindNotFound, "event %s not found", eventID)
		}
		pdu = row.pdu
		return nil
	})
	return pdu, err
}

func (s *Store) Query(ctx context.Context, query storage.Query) (storage.QueryResult, error) {
	var wake <-chan struct{}
	if query.Wait {
		wake = s.notifier.Subscribe(query.RoomID)
	}
	result, err := s.query(ctx, query)
	if err != nil || !query.Wait || len(result.Events) > 0 {
		return result, err
	}
	select {
	case <-wake:
	case <-ctx.Done():
		return result, ctx.Err()
	}
	return s.query(ctx, query)
}

func (s *Store) query(ctx context.Context, query storage.Query) (storage.QueryResult, error) {
	var result storage.QueryResult
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		if err := requireRoom(conn, query.RoomID); err != nil {
			return err
		}
		var total int
		err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM events WHERE room_id = ?", &sqlitex.ExecOptions{
			Args: []any{query.RoomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		from, to := storage.Window(query, total)

		var rows []storedEvent
		err = sqlitex.Execute(conn, "SELECT pdu, redacted_by FROM events WHERE room_id = ? AND idx >= ? AND idx < ? ORDER BY idx", &sqlitex.ExecOptions{
			Args: []any{query.RoomID.String(), from, to},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row, err := scanEvent(stmt)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				return nil
			},
		})
		if err != nil {
			return err
		}
		views := make([]event.PDU, 0, len(rows))
		for _, row := range rows {
			pdu, err := view(conn, row)
			if err != nil {
				return err
			}
			views = append(views, pdu)
		}
		events, err := storage.Filter(query, views)
		if err != nil {
			return err
		}
		result = storage.QueryResult{Events: events, End: to}
		return nil
	})
	return result, err
}
