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

package blob

import (
	"bytes"
	"testing"

	"github.com/canonical/go-tpm2"
)

func testPublic() *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeKeyedHash,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs:   tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
		Params: &tpm2.PublicParamsU{
			KeyedHashDetail: &tpm2.KeyedHashParams{
				Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.KeyedHashSchemeNull},
			},
		},
	}
}

func TestMarshalUnmarshalRoundTripNoSeed(t *testing.T) {
	want := Blob{
		Private: tpm2.Private(bytes.Repeat([]byte{0x42}, 64)),
		Public:  testPublic(),
	}

	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(got.Private, want.Private) {
		t.Errorf("private area mismatch")
	}
	if len(got.Seed) != 0 {
		t.Errorf("expected no seed, got %d bytes", len(got.Seed))
	}
	if got.IsCalculated() {
		t.Errorf("blob with no seed must not be calculated")
	}
	if got.Public.Type != want.Public.Type || got.Public.NameAlg != want.Public.NameAlg {
		t.Errorf("public area mismatch: got %+v", got.Public)
	}
}

func TestMarshalUnmarshalRoundTripWithSeed(t *testing.T) {
	want := Blob{
		Private: tpm2.Private(bytes.Repeat([]byte{0x11}, 32)),
		Public:  testPublic(),
		Seed:    tpm2.EncryptedSecret(bytes.Repeat([]byte{0x99}, 256)),
	}

	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(got.Seed, want.Seed) {
		t.Errorf("seed mismatch: got %d bytes, want %d", len(got.Seed), len(want.Seed))
	}
	if !got.IsCalculated() {
		t.Errorf("blob with a seed must be calculated")
	}
}

func TestUnmarshalRejectsTruncatedInput(t *testing.T) {
	if _, err := Unmarshal([]byte{0x00}); err == nil {
		t.Errorf("expected an error for a truncated length prefix")
	}
	if _, err := Unmarshal([]byte{0x00, 0x05, 0x01, 0x02}); err == nil {
		t.Errorf("expected an error when fewer bytes remain than the declared length")
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	want := Blob{
		Private: tpm2.Private(bytes.Repeat([]byte{0x01}, 16)),
		Public:  testPublic(),
		Seed:    tpm2.EncryptedSecret(bytes.Repeat([]byte{0x02}, 16)),
	}
	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data = append(data, 0xFF)
	if _, err := Unmarshal(data); err == nil {
		t.Errorf("expected an error for trailing bytes after the seed")
	}
}
