// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

func roomBucket(tx *bolt.Tx, roomID ref.RoomID) (*bolt.Bucket, error) {
	bucket := tx.Bucket(bucketRooms).Bucket([]byte(roomID.String()))
	if bucket == nil {
		return nil, matrixerr.New(matrixerr.KindRoomNotFound, "room %s does not exist", roomID)
	}
	return bucket, nil
}

// putEvent stores pdu's envelope and appends its ID to the room's
// timeline.
func putEvent(tx *bolt.Tx, room *bolt.Bucket, pdu event.PDU) error {
	events := tx.Bucket(bucketEvents)
	key := []byte(pdu.EventID().String())
	if events.Get(key) != nil {
		return matrixerr.New(matrixerr.KindInvalidEvent, "event %s already stored", pdu.EventID())
	}
	data, err := event.Encode(pdu)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", pdu.EventID(), err)
	}
	if err := events.Put(key, data); err != nil {
		return err
	}
	timeline := room.Bucket(bucketTimeline)
	sequence, err := timeline.NextSequence()
	if err != nil {
		return err
	}
	return timeline.Put(indexKey(sequence-1), key)
}

func (s *Store) CreateRoom(ctx context.Context, create event.PDU) (ref.EventID, error) {
	if err := storage.CheckCreate(create); err != nil {
		return ref.EventID{}, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		rooms := tx.Bucket(bucketRooms)
		name := []byte(create.RoomID().String())
		if rooms.Bucket(name) != nil {
			return matrixerr.New(matrixerr.KindInvalidEvent, "room %s already exists", create.RoomID())
		}
		room, err := rooms.CreateBucket(name)
		if err != nil {
			return err
		}
		if _, err := room.CreateBucket(bucketTimeline); err != nil {
			return err
		}
		leaves, err := room.CreateBucket(bucketLeaves)
		if err != nil {
			return err
		}
		if err := putEvent(tx, room, create); err != nil {
			return err
		}
		return leaves.Put([]byte(create.EventID().String()), []byte{})
	})
	if err != nil {
		return ref.EventID{}, err
	}
	s.logger.Debug("room created", "room_id", create.RoomID(), "event_id", create.EventID())
	return create.EventID(), nil
}

func (s *Store) AppendEvent(ctx context.Context, pdu event.PDU) (ref.EventID, error) {
	if err := storage.CheckAppend(pdu); err != nil {
		return ref.EventID{}, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		room, err := roomBucket(tx, pdu.RoomID())
		if err != nil {
			return err
		}
		if err := putEvent(tx, room, pdu); err != nil {
			return err
		}
		leaves := room.Bucket(bucketLeaves)
		for _, prev := range pdu.PrevEvents() {
			if err := leaves.Delete([]byte(prev.String())); err != nil {
				return err
			}
		}
		if err := leaves.Put([]byte(pdu.EventID().String()), []byte{}); err != nil {
			return err
		}
		if pdu.Type() == event.TypeRedaction {
			return recordRedaction(tx, pdu)
		}
		return nil
	})
	if err != nil {
		return ref.EventID{}, err
	}
	s.notifier.Notify(pdu.RoomID())
	return pdu.EventID(), nil
}

// recordRedaction marks the redaction's target as redacted when the
// target is stored in the same room and is not already redacted.
func recordRedaction(tx *bolt.Tx, redaction event.PDU) error {
	redactions := tx.Bucket(bucketRedactions)
	targetKey := []byte(redaction.Redacts().String())
	if redactions.Get(targetKey) != nil {
		return nil
	}
	target, found, err := loadPDU(tx, targetKey)
	if err != nil || !found || target.RoomID() != redaction.RoomID() {
		return err
	}
	return redactions.Put(targetKey, []byte(redaction.EventID().String()))
}

func loadPDU(tx *bolt.Tx, key []byte) (event.PDU, bool, error) {
	data := tx.Bucket(bucketEvents).Get(key)
	if data == nil {
		return nil, false, nil
	}
	pdu, err := event.Decode(bytes.Clone(data))
	if err != nil {
		return nil, false, matrixerr.Wrap(matrixerr.KindInternal, err, "decoding stored event")
	}
	return pdu, true, nil
}

// loadView returns the client view of the stored event with the given
// key.
func loadView(tx *bolt.Tx, key []byte) (event.PDU, bool, error) {
	pdu, found, err := loadPDU(tx, key)
	if err != nil || !found {
		return nil, found, err
	}
	redactionID := tx.Bucket(bucketRedactions).Get(key)
	if redactionID == nil {
		return pdu, true, nil
	}
	redaction, found, err := loadPDU(tx, redactionID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, matrixerr.New(matrixerr.KindInternal, "redaction %s of %s is missing", redactionID, pdu.EventID())
	}
	view, err := storage.RedactedView(pdu, redaction)
	return view, true, err
}

func (s *Store) Frontier(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	var frontier []ref.EventID
	err := s.db.View(func(tx *bolt.Tx) error {
		room, err := roomBucket(tx, roomID)
		if err != nil {
			return err
		}
		// bbolt iterates keys in byte order, which for these ASCII IDs
		// is string order.
		return room.Bucket(bucketLeaves).ForEach(func(key, _ []byte) error {
			eventID, err := ref.ParseEventID(string(key))
			if err != nil {
				return matrixerr.Wrap(matrixerr.KindInternal, err, "stored leaf")
			}
			frontier = append(frontier, eventID)
			return nil
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
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRooms).ForEach(func(key, _ []byte) error {
			roomID, err := ref.ParseRoomID(string(key))
			if err != nil {
				return matrixerr.Wrap(matrixerr.KindInternal, err, "stored room")
			}
			rooms = append(rooms, roomID)
			return nil
		})
	})
	return rooms, err
}

func (s *Store) Event(ctx context.Context, eventID ref.EventID) (event.PDU, error) {
	var pdu event.PDU
	err := s.db.View(func(tx *bolt.Tx) error {
		view, found, err := loadView(tx, []byte(eventID.String()))
		if err != nil {
			return err
		}
		if !found {
			return matrixerr.New(matrixerr.KindNotFound, "event %s not found", eventID)
		}
		pdu = view
		return nil
	})
	return pdu, err
}

func (s *Store) PDU(ctx context.Context, eventID ref.EventID) (event.PDU, error) {
	var pdu event.PDU
	err := s.db.View(func(tx *bolt.Tx) error {
		original, found, err := loadPDU(tx, []byte(eventID.String()))
		if err != nil {
			return err
		}
		if !found {
			return matrixerr.New(matrixerr.KindNotFound, "event %s not found", eventID)
		}
		pdu = original
		return nil
	})
	return pdu, err
}

func (s *Store) Query(ctx context.Context, query storage.Query) (storage.QueryResult, error) {
	var wake <-chan struct{}
	if query.Wait {
		wake = s.notifier.Subscribe(query.RoomID)
	}
	result, err := s.query(query)
	if err != nil || !query.Wait || len(result.Events) > 0 {
		return result, err
	}
	select {
	case <-wake:
	case <-ctx.Done():
		return result, ctx.Err()
	}
	return s.query(query)
}

func (s *Store) query(query storage.Query) (storage.QueryResult, error) {
	var result storage.QueryResult
	err := s.db.View(func(tx *bolt.Tx) error {
		room, err := roomBucket(tx, query.RoomID)
		if err != nil {
			return err
		}
		timeline := room.Bucket(bucketTimeline)
		from, to := storage.Window(query, int(timeline.Sequence()))

		views := make([]event.PDU, 0, to-from)
		cursor := timeline.Cursor()
		for key, eventID := cursor.Seek(indexKey(uint64(from))); key != nil; key, eventID = cursor.Next() {
			if binary.BigEndian.Uint64(key) >= uint64(to) {
				break
			}
			view, found, err := loadView(tx, eventID)
			if err != nil {
				return err
			}
			if !found {
				return matrixerr.New(matrixerr.KindInternal, "timeline entry %s has no stored event", eventID)
			}
			views = append(views, view)
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
