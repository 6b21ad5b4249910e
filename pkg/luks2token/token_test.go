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

package luks2token

import "testing"

const validToken = `{
	"type": "systemd-tpm2",
	"keyslots": ["0"],
	"tpm2-blob": "YmxvYg==",
	"tpm2-pcrs": [0, 7],
	"tpm2-policy-hash": "aabbcc",
	"tpm2-pcr-bank": "sha256",
	"tpm2-pin": true
}`

func TestDecodeValidToken(t *testing.T) {
	tok, err := Decode([]byte(validToken))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tok.Type != TypeName {
		t.Errorf("got type %q", tok.Type)
	}
	if tok.PCRMask() != 0x81 {
		t.Errorf("got mask 0x%x, want 0x81", tok.PCRMask())
	}
	bank, err := tok.Bank()
	if err != nil || bank != "sha256" {
		t.Errorf("Bank() = %q, %v", bank, err)
	}
	blob, err := tok.BlobBytes()
	if err != nil || string(blob) != "blob" {
		t.Errorf("BlobBytes() = %q, %v", blob, err)
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	doc := `{"type": "systemd-fido2", "keyslots": ["0"], "tpm2-blob": "aa", "tpm2-pcrs": [], "tpm2-policy-hash": "aa"}`
	if _, err := Decode([]byte(doc)); err == nil {
		t.Errorf("expected an error for the wrong token type")
	}
}

func TestDecodeRejectsMissingRequiredField(t *testing.T) {
	doc := `{"type": "systemd-tpm2", "keyslots": ["0"], "tpm2-pcrs": [], "tpm2-policy-hash": "aa"}`
	if _, err := Decode([]byte(doc)); err == nil {
		t.Errorf("expected an error for a missing tpm2-blob field")
	}
}

func TestBankDefaultsToSHA256(t *testing.T) {
	tok := &Token{}
	bank, err := tok.Bank()
	if err != nil || bank != "sha256" {
		t.Errorf("Bank() = %q, %v", bank, err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := &Token{
		Keyslots:   []string{"1"},
		Blob:       "AAAA",
		PCRs:       []int{4, 5},
		PolicyHash: "deadbeef",
	}
	data, err := Encode(tok)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.PCRMask() != tok.PCRMask() {
		t.Errorf("round trip changed the PCR mask")
	}
}
