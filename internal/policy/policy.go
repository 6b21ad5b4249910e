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

// Package policy computes the 32-byte SHA-256 authorization policy digest
// that binds a sealed object. Every function here exists in two forms:
// an offline one that chains SHA-256 over marshalled TPM wire bytes, and
// an on-TPM one that drives the equivalent assertion inside a live policy
// session. Both forms must agree byte-for-byte — that equality is the
// engine's central correctness property.
package policy

import (
	"bytes"
	"crypto/sha256"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
	"github.com/canonical/go-tpm2/util"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
	"github.com/rancher/tpm2seal/pkg/sigfile"
)

// Digest is the 32-byte running policy hash.
type Digest [sha256.Size]byte

// Zero is the initial digest value a policy chain starts from.
var Zero Digest

// Bytes returns d as a plain byte slice.
func (d Digest) Bytes() []byte {
	return d[:]
}

func digestFrom(b []byte) Digest {
	var d Digest
	copy(d[:], b)
	return d
}

// Params describes the policy a sealed object is bound to: a public key
// (for PolicyAuthorize), a set of expected PCR values (for PolicyPCR), and
// a PIN flag (for PolicyAuthValue). Composition is always in this order —
// Authorize, then PCR, then AuthValue — matching spec.md's fixed chain.
type Params struct {
	AuthorizeKey *tpm2.Public // nil if no public key is bound
	PolicyRef    tpm2.Nonce   // used only alongside AuthorizeKey
	PCRs         []pcrsel.Value
	HasPIN       bool
}

// ComputeOffline computes the expected policy digest for p without
// talking to a TPM, the same computation the on-TPM path performs inside
// a trial policy session.
func ComputeOffline(p Params) (Digest, error) {
	digest := Zero

	if p.AuthorizeKey != nil {
		d, err := offlinePolicyAuthorize(p.AuthorizeKey, p.PolicyRef)
		if err != nil {
			return Digest{}, err
		}
		digest = d
	}

	if len(p.PCRs) > 0 {
		d, err := offlinePolicyPCR(digest, p.PCRs)
		if err != nil {
			return Digest{}, err
		}
		digest = d
	}

	if p.HasPIN {
		digest = offlinePolicyAuthValue(digest)
	}

	return digest, nil
}

// offlinePolicyAuthValue extends digest with the marshalled
// TPM2_CC_PolicyAuthValue command code, matching TPM2_PolicyAuthValue's
// effect on the session digest.
func offlinePolicyAuthValue(digest Digest) Digest {
	cc := mu.MustMarshalToBytes(tpm2.CommandPolicyAuthValue)
	h := sha256.New()
	h.Write(digest[:])
	h.Write(cc)
	return digestFrom(h.Sum(nil))
}

// offlinePolicyPCR marshals the command code and the normalized PCR
// selection list, then extends digest with (marshalled buffer || SHA-256
// of the concatenated PCR digests), in selection traversal order.
func offlinePolicyPCR(digest Digest, values []pcrsel.Value) (Digest, error) {
	sel, concatenated, err := selectionAndConcat(values)
	if err != nil {
		return Digest{}, err
	}

	pcrDigest := sha256.Sum256(concatenated)

	buf, err := mu.MarshalToBytes(tpm2.CommandPolicyPCR, sel)
	if err != nil {
		return Digest{}, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot marshal PolicyPCR buffer")
	}

	h := sha256.New()
	h.Write(digest[:])
	h.Write(buf)
	h.Write(pcrDigest[:])
	return digestFrom(h.Sum(nil)), nil
}

// selectionAndConcat builds the normalized PCRSelectionList for values
// and the concatenation of their digests in traversal order (ascending
// bank, then ascending index — the same order PCRRead returns them in).
func selectionAndConcat(values []pcrsel.Value) (tpm2.PCRSelectionList, []byte, error) {
	sorted := pcrsel.Sort(values)
	if !pcrsel.Valid(sorted) {
		return nil, nil, pkgerror.New(pkgerror.KindBadArgument, "PCR value array is not valid (duplicates or unsorted)")
	}

	var list pcrsel.List
	for _, v := range sorted {
		list = list.Add(pcrsel.List{pcrsel.FromMask(1<<uint(v.Index), v.Hash)})
	}

	var concatenated bytes.Buffer
	for _, v := range sorted {
		if v.Value == nil {
			return nil, nil, pkgerror.New(pkgerror.KindBadArgument, "PCR %d (%s) has no expected digest", v.Index, v.Hash)
		}
		concatenated.Write(v.Value)
	}

	return list.ToTPM(), concatenated.Bytes(), nil
}

// offlinePolicyAuthorize resets the running digest to zero, extends with
// (command code || name of key), then extends with policyRef if present,
// or re-hashes the current value if absent — matching TPM2_PolicyAuthorize
// applied to an empty trial session.
func offlinePolicyAuthorize(key *tpm2.Public, policyRef tpm2.Nonce) (Digest, error) {
	name, err := keyName(key)
	if err != nil {
		return Digest{}, err
	}

	cc := mu.MustMarshalToBytes(tpm2.CommandPolicyAuthorize)
	h := sha256.New()
	h.Write(Zero[:])
	h.Write(cc)
	h.Write(name)
	step1 := h.Sum(nil)

	h2 := sha256.New()
	h2.Write(step1)
	if len(policyRef) > 0 {
		h2.Write(policyRef)
	}
	return digestFrom(h2.Sum(nil)), nil
}

// keyName computes the TPM "name" of a public area: nameAlg || SHA-256 of
// the marshalled public area. This ties a policy to both the key's
// cryptographic fingerprint and its TPM-specific parameters.
func keyName(pub *tpm2.Public) (tpm2.Name, error) {
	b, err := mu.MarshalToBytes(pub)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot marshal public area")
	}
	digest := sha256.Sum256(b)
	algBytes := mu.MustMarshalToBytes(tpm2.HashAlgorithmSHA256)
	name := append(append(tpm2.Name{}, algBytes...), digest[:]...)
	return name, nil
}

// VerifyApprovedPolicy checks that a signature collection contains an
// entry matching (bankName, pcrMask, keyFingerprint, policyDigest)
// exactly, per the §4.D signature file lookup rule.
func VerifyApprovedPolicy(sigs sigfile.Collection, bank string, pcrMask uint32, keyFingerprint, policyDigest []byte) (*sigfile.Entry, error) {
	entry, ok := sigs.Find(bank, pcrMask, keyFingerprint, policyDigest)
	if !ok {
		return nil, pkgerror.New(pkgerror.KindNotFound, "no matching signature for bank=%s pcrs=0x%x", bank, pcrMask)
	}
	return entry, nil
}

// ComputePolicyAuthorizeDigest is the digest an authorized-policy
// signature is computed over: SHA-256(approvedPolicy || policyRef). The
// TPM verifies RSASSA over this value, not over the raw approved policy.
func ComputePolicyAuthorizeDigest(approvedPolicy Digest, policyRef tpm2.Nonce) tpm2.Digest {
	d, _ := util.ComputePolicyAuthorizeDigest(tpm2.HashAlgorithmSHA256, tpm2.Digest(approvedPolicy[:]), policyRef)
	return d
}
