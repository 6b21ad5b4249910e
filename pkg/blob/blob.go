/*
Copyright © 2026 the tpm2seal authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package blob marshals and unmarshals the self-describing sealed-object
// wire format: the private area, the public area, and an optional
// encrypted seed, each length-prefixed so the format needs no separate
// schema to parse. The seed is present iff bytes remain after the public
// area, which is what makes an "imported" (duplicated) sealed object
// self-describing without a dedicated flag byte.
package blob

import (
	"encoding/binary"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// Blob is the decoded triple a sealed object's wire bytes carry.
type Blob struct {
	Private tpm2.Private
	Public  *tpm2.Public
	Seed    tpm2.EncryptedSecret // nil unless this is a calculated (imported) sealed object
}

// Marshal renders b in the order private, public, optional seed, each
// preceded by a 2-byte big-endian length.
func Marshal(b Blob) ([]byte, error) {
	privBytes, err := mu.MarshalToBytes(b.Private)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot marshal private area")
	}
	pubBytes, err := mu.MarshalToBytes(b.Public)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot marshal public area")
	}

	out := make([]byte, 0, 4+len(privBytes)+len(pubBytes))
	out = appendLengthPrefixed(out, privBytes)
	out = appendLengthPrefixed(out, pubBytes)

	if len(b.Seed) > 0 {
		seedBytes, err := mu.MarshalToBytes(b.Seed)
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot marshal encrypted seed")
		}
		out = appendLengthPrefixed(out, seedBytes)
	}

	return out, nil
}

// Unmarshal parses data produced by Marshal. A seed is decoded iff bytes
// remain after the public area.
func Unmarshal(data []byte) (Blob, error) {
	privBytes, rest, err := readLengthPrefixed(data)
	if err != nil {
		return Blob{}, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed blob: private area")
	}

	pubBytes, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return Blob{}, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed blob: public area")
	}

	var b Blob
	if _, err := mu.UnmarshalFromBytes(privBytes, &b.Private); err != nil {
		return Blob{}, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed blob: cannot unmarshal private area")
	}

	b.Public = &tpm2.Public{}
	if _, err := mu.UnmarshalFromBytes(pubBytes, b.Public); err != nil {
		return Blob{}, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed blob: cannot unmarshal public area")
	}

	if len(rest) == 0 {
		return b, nil
	}

	seedBytes, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return Blob{}, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed blob: encrypted seed")
	}
	if len(rest) != 0 {
		return Blob{}, pkgerror.New(pkgerror.KindBadArgument, "malformed blob: %d trailing bytes after encrypted seed", len(rest))
	}
	if _, err := mu.UnmarshalFromBytes(seedBytes, &b.Seed); err != nil {
		return Blob{}, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed blob: cannot unmarshal encrypted seed")
	}

	return b, nil
}

// IsCalculated reports whether b carries an encrypted seed, i.e. was
// produced by an import rather than a direct Create.
func (b Blob) IsCalculated() bool {
	return len(b.Seed) > 0
}

func appendLengthPrefixed(out, field []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(field)))
	out = append(out, lenBuf[:]...)
	return append(out, field...)
}

func readLengthPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, pkgerror.New(pkgerror.KindBadArgument, "truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < n {
		return nil, nil, pkgerror.New(pkgerror.KindBadArgument, "truncated field: need %d bytes, have %d", n, len(data))
	}
	return data[:n], data[n:], nil
}
