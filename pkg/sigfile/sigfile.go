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

// Package sigfile reads the signature-collection document a signed-policy
// unseal looks up a matching authorized-policy signature in: a JSON
// object keyed by bank name, each value an array of entries keyed by PCR
// mask, key fingerprint, and policy digest.
package sigfile

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// schemaDoc is embedded inline rather than loaded from disk: the
// signature file format is part of this engine's own wire contract, not
// an external one that could drift independently.
const schemaDoc = `{
	"type": "object",
	"additionalProperties": {
		"type": "array",
		"items": {
			"type": "object",
			"required": ["pcrs", "pkfp", "pol", "sig"],
			"properties": {
				"pcrs": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 23}},
				"pkfp": {"type": "string"},
				"pol":  {"type": "string"},
				"sig":  {"type": "string"}
			}
		}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("sigfile.json", bytes.NewReader([]byte(schemaDoc))); err != nil {
		panic(err)
	}
	return c.MustCompile("sigfile.json")
}

// Entry is one signature record: the PCR mask it was produced for, the
// fingerprint of the authorizing public key, the policy digest it
// approves, and the RSASSA signature over ComputePolicyAuthorizeDigest.
type Entry struct {
	PCRs         []int  `json:"pcrs"`
	KeyFpr       string `json:"pkfp"`
	PolicyDigest string `json:"pol"`
	Signature    string `json:"sig"`
}

func (e Entry) pcrMask() uint32 {
	var m uint32
	for _, p := range e.PCRs {
		if p >= 0 && p <= 23 {
			m |= 1 << uint(p)
		}
	}
	return m
}

// DecodeSignature returns the entry's base64-decoded RSASSA signature.
func (e Entry) DecodeSignature() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed base64 signature in signature file")
	}
	return b, nil
}

// Collection is the parsed signature file: bank name -> entries.
type Collection map[string][]Entry

// Parse validates raw against the embedded schema and decodes it.
func Parse(raw []byte) (Collection, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed signature file JSON")
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "signature file does not match the expected schema")
	}

	var out Collection
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot decode signature file")
	}
	return out, nil
}

// Find looks up the entry matching bank, pcrMask, keyFingerprint and
// policyDigest exactly, per the §4.D lookup rule: all four fields must
// match.
func (c Collection) Find(bank string, pcrMask uint32, keyFingerprint, policyDigest []byte) (*Entry, bool) {
	fpr := hex.EncodeToString(keyFingerprint)
	pol := hex.EncodeToString(policyDigest)

	for _, e := range c[bank] {
		if e.pcrMask() != pcrMask {
			continue
		}
		if e.KeyFpr != fpr {
			continue
		}
		if e.PolicyDigest != pol {
			continue
		}
		entry := e
		return &entry, true
	}
	return nil, false
}
