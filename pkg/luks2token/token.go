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

// Package luks2token codecs the systemd-tpm2 LUKS2 JSON token: the
// boundary object a volume-management layer stores alongside a keyslot to
// describe how that keyslot's key is protected by this engine. tpm2seal
// never reads or writes LUKS2 superblocks itself — it only encodes and
// decodes this one JSON object.
package luks2token

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
)

// TypeName is the fixed "type" discriminator systemd-cryptenroll assigns
// this token kind.
const TypeName = "systemd-tpm2"

const schemaDoc = `{
	"type": "object",
	"required": ["type", "keyslots", "tpm2-blob", "tpm2-pcrs", "tpm2-policy-hash"],
	"properties": {
		"type": {"const": "systemd-tpm2"},
		"keyslots": {"type": "array", "items": {"type": "string"}},
		"tpm2-blob": {"type": "string"},
		"tpm2-pcrs": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 23}},
		"tpm2-policy-hash": {"type": "string"},
		"tpm2-pcr-bank": {"type": "string", "enum": ["sha1", "sha256", "sha384", "sha512"]},
		"tpm2-primary-alg": {"type": "string", "enum": ["ecc", "rsa"]},
		"tpm2-pin": {"type": "boolean"},
		"tpm2_pubkey_pcrs": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 23}},
		"tpm2_pubkey": {"type": "string"},
		"tpm2_salt": {"type": "string"},
		"tpm2_srk": {"type": "string"}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("luks2token.json", strings.NewReader(schemaDoc)); err != nil {
		panic(err)
	}
	return c.MustCompile("luks2token.json")
}

// Token is the decoded systemd-tpm2 LUKS2 token. Field names mirror the
// wire keys exactly; new fields since the dash-separated original are
// underscore-separated, per spec.
type Token struct {
	Type           string `json:"type"`
	Keyslots       []string `json:"keyslots"`
	Blob           string `json:"tpm2-blob"`
	PCRs           []int  `json:"tpm2-pcrs"`
	PolicyHash     string `json:"tpm2-policy-hash"`
	PCRBank        string `json:"tpm2-pcr-bank,omitempty"`
	PrimaryAlg     string `json:"tpm2-primary-alg,omitempty"`
	PIN            bool   `json:"tpm2-pin,omitempty"`
	PubkeyPCRs     []int  `json:"tpm2_pubkey_pcrs,omitempty"`
	Pubkey         string `json:"tpm2_pubkey,omitempty"`
	Salt           string `json:"tpm2_salt,omitempty"`
	SRK            string `json:"tpm2_srk,omitempty"`
}

// Decode validates raw against the embedded schema and parses it.
func Decode(raw []byte) (*Token, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed LUKS2 token JSON")
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "LUKS2 token does not match the expected schema")
	}

	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot decode LUKS2 token")
	}
	if t.Type != TypeName {
		return nil, pkgerror.New(pkgerror.KindBadArgument, "unexpected token type %q, want %q", t.Type, TypeName)
	}
	return &t, nil
}

// Encode renders t back to its canonical JSON form.
func Encode(t *Token) ([]byte, error) {
	if t.Type == "" {
		t.Type = TypeName
	}
	// The schema Decode validates against wants arrays here, not null.
	if t.Keyslots == nil {
		t.Keyslots = []string{}
	}
	if t.PCRs == nil {
		t.PCRs = []int{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot encode LUKS2 token")
	}
	return data, nil
}

// BlobBytes base64-decodes the tpm2-blob field.
func (t *Token) BlobBytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(t.Blob)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed tpm2-blob")
	}
	return b, nil
}

// PolicyDigest hex-decodes the tpm2-policy-hash field.
func (t *Token) PolicyDigest() ([]byte, error) {
	b, err := hex.DecodeString(t.PolicyHash)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed tpm2-policy-hash")
	}
	return b, nil
}

// Bank validates tpm2-pcr-bank and returns its bank name ("sha1",
// "sha256", "sha384" or "sha512"), defaulting to "sha256" when absent
// (systemd-cryptenroll's own default).
func (t *Token) Bank() (string, error) {
	if t.PCRBank == "" {
		return "sha256", nil
	}
	switch t.PCRBank {
	case "sha1", "sha256", "sha384", "sha512":
		return t.PCRBank, nil
	default:
		return "", pkgerror.New(pkgerror.KindBadArgument, "unknown tpm2-pcr-bank %q", t.PCRBank)
	}
}

// PCRMask converts tpm2-pcrs into the engine's raw bitmask form.
func (t *Token) PCRMask() uint32 {
	var mask uint32
	for _, p := range t.PCRs {
		if p >= 0 && p <= pcrsel.MaxPCR {
			mask |= 1 << uint(p)
		}
	}
	return mask
}

// PubkeyPEM base64-decodes tpm2_pubkey into its PEM bytes, when present.
func (t *Token) PubkeyPEM() ([]byte, error) {
	if t.Pubkey == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(t.Pubkey)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed tpm2_pubkey")
	}
	return b, nil
}

// SRKBytes base64-decodes tpm2_srk, when present.
func (t *Token) SRKBytes() ([]byte, error) {
	if t.SRK == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(t.SRK)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed tpm2_srk")
	}
	return b, nil
}
