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

package seal

import (
	"crypto/rand"

	"github.com/canonical/go-tpm2"

	"github.com/rancher/tpm2seal/internal/handles"
	"github.com/rancher/tpm2seal/internal/policy"
	"github.com/rancher/tpm2seal/internal/transport"
	"github.com/rancher/tpm2seal/pkg/blob"
	"github.com/rancher/tpm2seal/pkg/constants"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// Params describes a seal request: the policy digest to bind the object
// to (policy.Zero if none), an optional PIN, and whether to credit TPM
// entropy into the kernel pool and export the SRK alongside the blob.
type Params struct {
	PolicyDigest   policy.Digest
	PIN            string
	CreditEntropy  bool
	ExportSRK      bool
}

// Result is everything Seal produces: the plaintext secret (caller zeroes
// it once no longer needed), the marshalled blob, the primary algorithm
// the SRK was derived under, and the optional serialized SRK.
type Result struct {
	Secret     []byte
	Blob       []byte
	PrimaryAlg string
	SRK        []byte
}

// Seal runs spec.md §4.E's seal pipeline: generate a secret, build the
// keyed-hash template bound to p.PolicyDigest, derive or fetch the SRK,
// start an encryption session, create the sealed object under it, and
// marshal the result to the wire blob format.
func Seal(ctx *transport.Context, p Params) (*Result, error) {
	if p.PIN != "" {
		if err := ValidatePINLength(p.PIN); err != nil {
			return nil, err
		}
	}

	if p.CreditEntropy {
		creditTPMEntropyOnce(ctx)
	}

	secret := make([]byte, constants.SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot generate secret from system CSPRNG")
	}

	srk, alg, err := handles.GetOrCreateSRK(ctx, ctx.Log)
	if err != nil {
		return nil, err
	}
	defer srk.Release()

	encSession, err := handles.StartEncryptionSession(ctx, srk.Resource)
	if err != nil {
		return nil, err
	}
	defer encSession.Release()

	sensitive := &tpm2.SensitiveCreate{Data: tpm2.SensitiveData(secret)}
	if p.PIN != "" {
		sensitive.UserAuth = hashPINAuthValue(p.PIN)
	}

	template := keyedHashTemplate(p.PolicyDigest.Bytes())

	priv, pub, _, _, _, err := ctx.TPM.Create(srk.Resource, sensitive, template, nil, nil, encSession.Session)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot create sealed object")
	}

	blobBytes, err := blob.Marshal(blob.Blob{Private: priv, Public: pub})
	if err != nil {
		return nil, err
	}

	result := &Result{Secret: secret, Blob: blobBytes, PrimaryAlg: alg}

	if p.ExportSRK {
		srkBytes, err := marshalSRK(ctx, srk)
		if err != nil {
			return nil, err
		}
		result.SRK = srkBytes
	}

	return result, nil
}
