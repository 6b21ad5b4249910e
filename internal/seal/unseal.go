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
	"strings"

	"github.com/canonical/go-tpm2"

	"github.com/rancher/tpm2seal/internal/handles"
	"github.com/rancher/tpm2seal/internal/policy"
	"github.com/rancher/tpm2seal/internal/transport"
	"github.com/rancher/tpm2seal/pkg/blob"
	"github.com/rancher/tpm2seal/pkg/constants"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/sigfile"
)

// UnsealParams describes an unseal request: the blob to open, how to
// obtain the SRK it was sealed under, the policy it must satisfy, and the
// optional signed-policy material.
type UnsealParams struct {
	Blob []byte

	// SRK is the exported SRK bytes from Seal's Result.SRK, if any. When
	// absent, PrimaryAlg names which legacy template to re-derive the SRK
	// from instead.
	SRK        []byte
	PrimaryAlg string

	Policy         policy.Params
	ExpectedDigest *policy.Digest

	// BankName and Signatures are only used for a signed-policy unseal;
	// Signatures is nil for a plain PCR/PIN policy.
	BankName   string
	Signatures sigfile.Collection

	PIN string

	// Legacy selects the older of the two historical policy-session
	// start signatures (§9 Open Question), for blobs sealed before the
	// salted-session form became the default.
	Legacy bool
}

// Unseal runs spec.md §4.E's unseal pipeline: obtain the SRK, load the
// sealed object, bind the PIN to its auth value, then retry a policy
// session against live PCR state up to RETRY_UNSEAL_MAX times until the
// unseal command succeeds, a non-PCR-race error occurs, or retries are
// exhausted.
func Unseal(ctx *transport.Context, p UnsealParams) ([]byte, error) {
	if p.PIN != "" {
		if err := ValidatePINLength(p.PIN); err != nil {
			return nil, err
		}
	}

	decoded, err := blob.Unmarshal(p.Blob)
	if err != nil {
		return nil, err
	}

	srk, err := obtainSRK(ctx, p)
	if err != nil {
		return nil, err
	}
	defer srk.Release()

	priv := decoded.Private
	if decoded.IsCalculated() {
		priv, err = importCalculated(ctx, srk, decoded)
		if err != nil {
			return nil, err
		}
	}

	loadEncSession, err := handles.StartEncryptionSession(ctx, srk.Resource)
	if err != nil {
		return nil, err
	}
	defer loadEncSession.Release()

	object, _, err := ctx.TPM.Load(srk.Resource, priv, decoded.Public, loadEncSession.Session)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot load sealed object under SRK")
	}
	objectHandle := handles.NewTransient(ctx, object)
	defer objectHandle.Release()

	if p.PIN != "" {
		object.SetAuthValue(hashPINAuthValue(p.PIN))
	}

	objectEncSession, err := handles.StartEncryptionSession(ctx, object)
	if err != nil {
		return nil, err
	}
	defer objectEncSession.Release()

	return unsealLoop(ctx, object, objectEncSession.Session, p)
}

// unsealLoop is the bounded PCR-race retry loop:
//
//	IDLE -> PolicySessionOpen -> PolicyInstalled -> DigestCheckPassed -> Unsealed
//	               ^                                       |
//	               └──────── PCR_CHANGED, retries>0 ────────┘
//
// Each iteration opens a fresh real policy session (a new session per
// attempt, discarding whatever digest the previous one built), drives the
// fixed Authorize -> PCR -> AuthValue composition, checks the digest if
// one was supplied, and issues the unseal command. Only a PCR race is
// retried; any other error, or running out of retries, ends the loop in
// FAIL.
func unsealLoop(ctx *transport.Context, object tpm2.ResourceContext, encSession tpm2.SessionContext, p UnsealParams) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < constants.RetryUnsealMax; attempt++ {
		policySession, err := handles.StartPolicySession(ctx, object, false, p.Legacy)
		if err != nil {
			return nil, err
		}

		ticket, approved, err := resolveAuthorizeTicket(ctx, p)
		if err != nil {
			policySession.Release()
			return nil, err
		}

		if err := policy.Execute(ctx, policySession.Session, p.Policy, approved, ticket); err != nil {
			policySession.Release()
			if pkgerror.Is(err, pkgerror.KindPcrRace) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if p.ExpectedDigest != nil {
			digest, err := policy.GetDigest(ctx, policySession.Session)
			if err != nil {
				policySession.Release()
				return nil, err
			}
			if digest != *p.ExpectedDigest {
				policySession.Release()
				return nil, pkgerror.New(pkgerror.KindDenied, "current policy digest does not match the expected digest stored with this blob")
			}
		}

		sensitive, err := ctx.TPM.Unseal(object, policySession.Session, encSession)
		policySession.Release()
		if err == nil {
			out := make([]byte, len(sensitive))
			copy(out, sensitive)
			return out, nil
		}

		if isPCRChanged(err) {
			lastErr = pkgerror.Wrap(pkgerror.KindPcrRace, err, "PCR changed mid-session, retrying")
			continue
		}

		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "unseal command failed")
	}

	if lastErr != nil {
		return nil, pkgerror.Wrap(pkgerror.KindPcrRace, lastErr, "exceeded %d unseal retries", constants.RetryUnsealMax)
	}
	return nil, pkgerror.New(pkgerror.KindPcrRace, "exceeded %d unseal retries", constants.RetryUnsealMax)
}

// resolveAuthorizeTicket runs the §4.D signature-verification sequence
// when a signed-policy unseal is requested, returning the resulting
// ticket and approved-policy digest for policy.Execute's PolicyAuthorize
// step. It returns a nil ticket and the zero digest when no public key
// is bound at all.
func resolveAuthorizeTicket(ctx *transport.Context, p UnsealParams) (*tpm2.TkVerified, policy.Digest, error) {
	if p.Policy.AuthorizeKey == nil {
		return nil, policy.Zero, nil
	}
	if p.Signatures == nil {
		// Enrollment: no signature exists yet, submit PolicyAuthorize
		// with a null ticket against the live approved-policy digest.
		approved, err := policy.ReadApprovedPCRDigest(ctx, p.Policy.PCRs)
		if err != nil {
			return nil, policy.Digest{}, err
		}
		return nil, approved, nil
	}
	return verifySignedPolicy(ctx, p)
}

func verifySignedPolicy(ctx *transport.Context, p UnsealParams) (*tpm2.TkVerified, policy.Digest, error) {
	approved, ticket, err := policy.VerifySignedPCRPolicy(ctx, p.Policy.AuthorizeKey, p.Policy.PolicyRef, p.Policy.PCRs, p.BankName, p.Signatures)
	if err != nil {
		return nil, policy.Digest{}, err
	}
	return ticket, approved, nil
}

// obtainSRK implements spec.md §4.E unseal step 2: deserialize the SRK
// from p.SRK if provided, else re-derive it from p.PrimaryAlg using the
// legacy template for blobs that predate the shared SRK convention.
func obtainSRK(ctx *transport.Context, p UnsealParams) (*handles.Handle, error) {
	if len(p.SRK) > 0 {
		return loadSRKFromBytes(ctx, p.SRK)
	}
	if p.PrimaryAlg != "" {
		return handles.DeriveLegacyPrimary(ctx, p.PrimaryAlg)
	}
	return nil, pkgerror.New(pkgerror.KindBadArgument, "cannot obtain SRK: no serialized SRK and no primary algorithm given")
}

// importCalculated runs the import operation spec.md §4.E unseal step 3
// describes for a "calculated" (duplicated) sealed object: one that
// carries an encrypted seed and needs TPM2_Import to produce a real
// private blob before it can be loaded.
func importCalculated(ctx *transport.Context, srk *handles.Handle, decoded blob.Blob) (tpm2.Private, error) {
	priv, err := ctx.TPM.Import(srk.Resource, nil, decoded.Public, decoded.Private, decoded.Seed, nil)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot import calculated sealed object")
	}
	return priv, nil
}

// isPCRChanged reports whether err is the TPM's way of saying a PCR
// changed mid-session: TPM2_Unseal fails with TPM_RC_POLICY_FAIL when the
// policy session's digest no longer matches the object's authPolicy,
// which is exactly what happens when an extend races the session.
func isPCRChanged(err error) bool {
	if err == nil {
		return false
	}
	if pkgerror.Is(err, pkgerror.KindPcrRace) {
		return true
	}
	return strings.Contains(err.Error(), "TPM_RC_POLICY_FAIL")
}
