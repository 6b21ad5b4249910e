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

// Package seal implements the sealing engine's outermost layer: deriving
// or fetching the SRK, creating a sealed keyed-hash object under a given
// policy, marshalling it to the wire blob format, and the inverse
// unsealing path with PIN binding and PCR-race retries. Everything below
// it — transport, handles, policy — is a leaf this package composes.
package seal

import (
	"github.com/canonical/go-tpm2"
)

// keyedHashTemplate builds the sealed object's public template: a
// keyed-hash object with no scheme (pure data container), SHA-256 name
// algorithm, fixed to this TPM and this parent, and authPolicy equal to
// the policy digest computed for this seal (or the zero digest when no
// policy is bound at all).
func keyedHashTemplate(policyDigest []byte) *tpm2.Public {
	return &tpm2.Public{
		Type:       tpm2.ObjectTypeKeyedHash,
		NameAlg:    tpm2.HashAlgorithmSHA256,
		Attrs:      tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
		AuthPolicy: tpm2.Digest(policyDigest),
		Params: &tpm2.PublicParamsU{
			KeyedHashDetail: &tpm2.KeyedHashParams{
				Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.KeyedHashSchemeNull},
			},
		},
	}
}
