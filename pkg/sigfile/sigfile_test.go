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

package sigfile

import (
	"encoding/hex"
	"testing"
)

const validDoc = `{
	"sha256": [
		{"pcrs": [0, 7], "pkfp": "` + fingerprintHex + `", "pol": "` + policyHex + `", "sig": "c2ln"}
	]
}`

const fingerprintHex = "1111111111111111111111111111111111111111111111111111111111111111"
const policyHex = "2222222222222222222222222222222222222222222222222222222222222222"

func TestParseValidDocument(t *testing.T) {
	c, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c["sha256"]) != 1 {
		t.Fatalf("expected one sha256 entry, got %d", len(c["sha256"]))
	}
}

func TestParseRejectsMissingField(t *testing.T) {
	doc := `{"sha256": [{"pcrs": [0], "pkfp": "aa", "pol": "bb"}]}`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Errorf("expected an error for an entry missing the sig field")
	}
}

func TestParseRejectsNonArrayValue(t *testing.T) {
	doc := `{"sha256": {"pcrs": [0]}}`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Errorf("expected an error when a bank's value is not an array")
	}
}

func TestFindMatchesAllFourFields(t *testing.T) {
	c, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	fpr, _ := hex.DecodeString(fingerprintHex)
	pol, _ := hex.DecodeString(policyHex)

	entry, ok := c.Find("sha256", 0x81, fpr, pol)
	if !ok {
		t.Fatalf("expected a match for the exact fields")
	}
	if entry.Signature != "c2ln" {
		t.Errorf("unexpected entry returned: %+v", entry)
	}

	if _, ok := c.Find("sha256", 0x01, fpr, pol); ok {
		t.Errorf("a PCR mask missing index 7 must not match")
	}
	if _, ok := c.Find("sha1", 0x81, fpr, pol); ok {
		t.Errorf("a different bank must not match")
	}
}

func TestDecodeSignature(t *testing.T) {
	e := Entry{Signature: "c2ln"}
	got, err := e.DecodeSignature()
	if err != nil {
		t.Fatalf("DecodeSignature: %v", err)
	}
	if string(got) != "sig" {
		t.Errorf("got %q, want %q", got, "sig")
	}
}

func TestDecodeSignatureRejectsMalformedBase64(t *testing.T) {
	e := Entry{Signature: "not base64!!"}
	if _, err := e.DecodeSignature(); err == nil {
		t.Errorf("expected an error for malformed base64")
	}
}
