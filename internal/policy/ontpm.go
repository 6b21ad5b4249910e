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

package policy

import (
	"crypto/sha256"
	"strings"

	"github.com/canonical/go-tpm2"

	"github.com/rancher/tpm2seal/internal/transport"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
	"github.com/rancher/tpm2seal/pkg/sigfile"
)

// RunPCR drives TPM2_PolicyPCR inside session against the live PCR
// values named by values' (bank, index) pairs. "PCR changed mid-session"
// is reported as KindPcrRace so the unseal retry loop can distinguish it
// from an unrecoverable failure.
func RunPCR(ctx *transport.Context, session tpm2.SessionContext, values []pcrsel.Value) error {
	sel, _, err := selectionAndConcat(values)
	if err != nil {
		return err
	}
	if err := ctx.TPM.PolicyPCR(session, nil, sel); err != nil {
		if strings.Contains(err.Error(), "TPM_RC_PCR_CHANGED") {
			return pkgerror.Wrap(pkgerror.KindPcrRace, err, "PolicyPCR failed, PCR values changed mid-session")
		}
		return pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "PolicyPCR failed")
	}
	return nil
}

// RunAuthValue drives TPM2_PolicyAuthValue inside session, binding the
// object's auth value (the PIN) into the session's authorization.
func RunAuthValue(ctx *transport.Context, session tpm2.SessionContext) error {
	if err := ctx.TPM.PolicyAuthValue(session); err != nil {
		return pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "PolicyAuthValue failed")
	}
	return nil
}

// RunAuthorize drives TPM2_PolicyAuthorize inside session: it checks that
// session's current digest equals approvedPolicy, and on success resets
// the digest to the authorize-chain value. ticket is nil on enrollment,
// when no TPM-verified signature exists yet.
func RunAuthorize(ctx *transport.Context, session tpm2.SessionContext, key *tpm2.Public, approvedPolicy Digest, policyRef tpm2.Nonce, ticket *tpm2.TkVerified) error {
	name, err := keyName(key)
	if err != nil {
		return err
	}
	if ticket == nil {
		ticket = &tpm2.TkVerified{Tag: tpm2.TagVerified, Hierarchy: tpm2.HandleNull}
	}
	if err := ctx.TPM.PolicyAuthorize(session, tpm2.Digest(approvedPolicy[:]), policyRef, name, ticket); err != nil {
		return pkgerror.Wrap(pkgerror.KindDenied, err, "PolicyAuthorize rejected")
	}
	return nil
}

// GetDigest reads back session's current running policy digest.
func GetDigest(ctx *transport.Context, session tpm2.SessionContext) (Digest, error) {
	d, err := ctx.TPM.PolicyGetDigest(session)
	if err != nil {
		return Digest{}, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "PolicyGetDigest failed")
	}
	return digestFrom(d), nil
}

// Execute runs the fixed Authorize -> PCR -> AuthValue composition inside
// a live session, in the order spec'd for both seal-time precomputation
// and unseal-time enforcement. ticket authorizes the Authorize step; pass
// nil when no public key is bound (the step is skipped entirely).
func Execute(ctx *transport.Context, session tpm2.SessionContext, p Params, approvedPolicy Digest, ticket *tpm2.TkVerified) error {
	if p.AuthorizeKey != nil {
		if err := RunAuthorize(ctx, session, p.AuthorizeKey, approvedPolicy, p.PolicyRef, ticket); err != nil {
			return err
		}
	}
	if len(p.PCRs) > 0 {
		if err := RunPCR(ctx, session, p.PCRs); err != nil {
			return err
		}
	}
	if p.HasPIN {
		if err := RunAuthValue(ctx, session); err != nil {
			return err
		}
	}
	return nil
}

// ReadApprovedPCRDigest reads the live PCR values named by values' (bank,
// index) pairs and computes the standalone PolicyPCR digest they would
// produce as the first and only assertion in a fresh session — the
// "approved policy" digest signature files are indexed by.
func ReadApprovedPCRDigest(ctx *transport.Context, values []pcrsel.Value) (Digest, error) {
	sel, _, err := selectionAndConcat(values)
	if err != nil {
		return Digest{}, err
	}

	_, pcrValues, err := ctx.TPM.PCRRead(sel)
	if err != nil {
		return Digest{}, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "PCRRead failed")
	}

	live := make([]pcrsel.Value, 0, len(values))
	for _, v := range values {
		digest, ok := pcrValues[v.Hash][v.Index]
		if !ok {
			return Digest{}, pkgerror.New(pkgerror.KindUnrecoverable, "TPM did not return PCR %d (%s)", v.Index, v.Hash)
		}
		live = append(live, pcrsel.Value{Hash: v.Hash, Index: v.Index, Value: digest})
	}

	return offlinePolicyPCR(Zero, live)
}

// keyFingerprint is the SHA-256 of the key's marshalled public area, used
// as the signature file lookup key — distinct from the TPM "name", which
// also carries the nameAlg prefix.
func keyFingerprint(key *tpm2.Public) ([]byte, error) {
	name, err := keyName(key)
	if err != nil {
		return nil, err
	}
	// name is nameAlg (2 bytes) || SHA-256(publicArea); the fingerprint
	// drops the algorithm prefix since this engine only ever uses SHA-256.
	if len(name) <= sha256.Size {
		return nil, pkgerror.New(pkgerror.KindUnrecoverable, "malformed key name")
	}
	return name[len(name)-sha256.Size:], nil
}

// VerifySignedPCRPolicy implements §4.D's signature-verification sequence
// for a signed-policy unseal: it loads key into the TPM, computes the
// live "approved policy" digest for pcrs, looks it up in sigs under bank,
// asks the TPM to verify the RSASSA signature over
// ComputePolicyAuthorizeDigest(approved, policyRef), and returns the
// resulting ticket alongside the approved digest for the Execute call
// that follows.
func VerifySignedPCRPolicy(ctx *transport.Context, key *tpm2.Public, policyRef tpm2.Nonce, pcrs []pcrsel.Value, bank string, sigs sigfile.Collection) (Digest, *tpm2.TkVerified, error) {
	approved, err := ReadApprovedPCRDigest(ctx, pcrs)
	if err != nil {
		return Digest{}, nil, err
	}

	fingerprint, err := keyFingerprint(key)
	if err != nil {
		return Digest{}, nil, err
	}

	var pcrMask uint32
	for _, v := range pcrs {
		pcrMask |= 1 << uint(v.Index)
	}

	entry, err := VerifyApprovedPolicy(sigs, bank, pcrMask, fingerprint, approved.Bytes())
	if err != nil {
		return Digest{}, nil, err
	}

	signature, err := entry.DecodeSignature()
	if err != nil {
		return Digest{}, nil, err
	}

	keyResource, err := ctx.TPM.LoadExternal(nil, key, tpm2.HandleOwner)
	if err != nil {
		return Digest{}, nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot load authorizing public key")
	}
	defer ctx.TPM.FlushContext(keyResource)

	authorizeDigest := ComputePolicyAuthorizeDigest(approved, policyRef)
	rsaSig := &tpm2.Signature{
		SigAlg: tpm2.SigSchemeAlgRSASSA,
		Signature: &tpm2.SignatureU{
			RSASSA: &tpm2.SignatureRSASSA{Hash: tpm2.HashAlgorithmSHA256, Sig: signature},
		},
	}

	ticket, err := ctx.TPM.VerifySignature(keyResource, authorizeDigest, rsaSig)
	if err != nil {
		return Digest{}, nil, pkgerror.Wrap(pkgerror.KindDenied, err, "authorizing signature did not verify")
	}

	return approved, ticket, nil
}
