// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/homeserver/lib/codec"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The two hashes
// an event carries use different keys so identical input bytes can
// never produce the same digest in both roles.
type domainKey [32]byte

// Domain separation keys: the ASCII domain name, zero-padded to 32
// bytes. Changing either invalidates every stored event ID.
var (
	contentDomainKey = domainKey{
		'h', 'o', 'm', 'e', 's', 'e', 'r', 'v', 'e', 'r', '.', 'e', 'v', 'e', 'n', 't',
		'.', 'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0,
	}

	referenceDomainKey = domainKey{
		'h', 'o', 'm', 'e', 's', 'e', 'r', 'v', 'e', 'r', '.', 'e', 'v', 'e', 'n', 't',
		'.', 'r', 'e', 'f', 'e', 'r', 'e', 'n', 'c', 'e', 0, 0, 0, 0, 0, 0,
	}
)

func keyedHash(key domainKey, data []byte) [32]byte {
	// NewKeyed only fails for a key that is not 32 bytes.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("event: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// contentHash hashes the full event without unsigned data or an
// existing content hash.
func contentHash(fields v4Fields) ([32]byte, error) {
	fields.Hashes = eventHashes{}
	fields.Unsigned = nil
	data, err := codec.Marshal(fields)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding event for content hash: %w", err)
	}
	return keyedHash(contentDomainKey, data), nil
}

// referenceHash hashes the redacted event, content hash included.
func referenceHash(fields v4Fields) ([32]byte, error) {
	redacted := fields.redacted()
	data, err := codec.Marshal(redacted)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding event for reference hash: %w", err)
	}
	return keyedHash(referenceDomainKey, data), nil
}
