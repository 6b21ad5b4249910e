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

// Package handles manages the lifecycle of everything the engine asks the
// TPM to create: transient keys, persistent objects, and sessions. Every
// acquisition returns a Handle wrapped in a scoped guard so release
// happens exactly once on every exit path, successful or not.
package handles

import (
	"github.com/canonical/go-tpm2"
	"github.com/sirupsen/logrus"

	"github.com/rancher/tpm2seal/internal/transport"
	"github.com/rancher/tpm2seal/pkg/constants"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// Handle is a reference to an object inside the TPM: a transient key, a
// persistent key, or a session. It carries a back-reference to its
// Context and records at creation time whether release means flushing
// (transient) or closing (persistent, session) — never inferred later.
type Handle struct {
	Resource tpm2.ResourceContext
	ctx      *transport.Context
	flush    bool
	released bool
}

// Release frees the handle exactly once. Errors are logged at debug and
// swallowed: by the time cleanup runs, nothing further can be done about
// a failure to release.
func (h *Handle) Release() {
	if h == nil || h.released || h.Resource == nil {
		return
	}
	h.released = true
	if !h.flush {
		return
	}
	if err := h.ctx.TPM.FlushContext(h.Resource); err != nil {
		h.ctx.Log.WithError(err).Debug("failed to flush TPM handle")
	}
}

func newTransient(ctx *transport.Context, r tpm2.ResourceContext) *Handle {
	return &Handle{Resource: r, ctx: ctx, flush: true}
}

func newPersistent(ctx *transport.Context, r tpm2.ResourceContext) *Handle {
	return &Handle{Resource: r, ctx: ctx, flush: false}
}

// NewTransient wraps an already-obtained resource (e.g. the result of
// Load) as a Handle released by flush. Exported for the seal/unseal
// pipeline, which loads objects under the SRK that this package does not
// otherwise know about.
func NewTransient(ctx *transport.Context, r tpm2.ResourceContext) *Handle {
	return newTransient(ctx, r)
}

// NewPersistent wraps an already-obtained resource that must never be
// flushed (a persistent object looked up by handle, e.g. a re-derived
// SRK). Exported for the seal/unseal pipeline.
func NewPersistent(ctx *transport.Context, r tpm2.ResourceContext) *Handle {
	return newPersistent(ctx, r)
}

// Session wraps a tpm2.SessionContext with the same scoped-release
// contract as Handle; sessions are always released by closing, never by
// flushing.
type Session struct {
	Session  tpm2.SessionContext
	ctx      *transport.Context
	released bool
}

// Release closes the session exactly once.
func (s *Session) Release() {
	if s == nil || s.released || s.Session == nil {
		return
	}
	s.released = true
	if err := s.ctx.TPM.FlushContext(s.Session); err != nil {
		s.ctx.Log.WithError(err).Debug("failed to close TPM session")
	}
}

// PersistLocation tries to place a transient object at handle, or, if
// handle is zero, the first available slot in
// [PersistentHandleRangeStart, PersistentHandleRangeEnd]. "Already
// defined" advances to the next candidate; any other error is fatal.
func PersistLocation(ctx *transport.Context, owner, object tpm2.ResourceContext, handle tpm2.Handle) (tpm2.ResourceContext, tpm2.Handle, error) {
	candidates := []tpm2.Handle{handle}
	if handle == 0 {
		candidates = nil
		for h := constants.PersistentHandleRangeStart; h <= constants.PersistentHandleRangeEnd; h++ {
			candidates = append(candidates, h)
		}
	}

	for _, h := range candidates {
		persisted, err := ctx.TPM.EvictControl(owner, object, h)
		if err == nil {
			return persisted, h, nil
		}
		if isResourceExists(err) {
			continue
		}
		return nil, 0, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot persist object at handle 0x%x", h)
	}
	return nil, 0, pkgerror.New(pkgerror.KindUnrecoverable, "no free persistent handle in range 0x%x-0x%x", constants.PersistentHandleRangeStart, constants.PersistentHandleRangeEnd)
}

// isResourceExists reports whether err is EvictControl's way of saying a
// persistent handle is already occupied (TPM_RC_NV_DEFINED). Any other
// handle error — a bad auth, an out-of-range handle, a hierarchy that's
// disabled — is fatal and must not be swallowed into slot-walking.
func isResourceExists(err error) bool {
	return tpm2.IsTPMHandleError(err, tpm2.ErrorNVDefined, tpm2.CommandEvictControl, tpm2.AnyHandleIndex)
}

// PrimaryAlgECC and PrimaryAlgRSA name the two SRK template families a
// blob's "chosen primary algorithm" field records, so an unseal on a
// different boot can rebuild the same primary if no serialized SRK was
// exported at seal time.
const (
	PrimaryAlgECC = "ecc"
	PrimaryAlgRSA = "rsa"
)

// GetOrCreateSRK finds the shared Storage Root Key at constants.SRKHandle,
// creating and persisting it if absent. Concurrent callers racing to
// persist only ever see one winner; the loser's EvictControl fails with
// "already defined" and simply re-looks-up the result. The returned
// string is PrimaryAlgECC or PrimaryAlgRSA, read back off the object's
// own public area so a caller can record it even when the SRK already
// existed.
func GetOrCreateSRK(ctx *transport.Context, log *logrus.Entry) (*Handle, string, error) {
	if existing, err := ctx.TPM.CreateResourceContextFromTPM(constants.SRKHandle); err == nil {
		log.Debug("reusing existing SRK")
		alg, algErr := primaryAlgOf(ctx, existing)
		if algErr != nil {
			return nil, "", algErr
		}
		return newPersistent(ctx, existing), alg, nil
	}

	template := selectSRKTemplate(ctx)
	alg := PrimaryAlgRSA
	if template.Type == tpm2.ObjectTypeECC {
		alg = PrimaryAlgECC
	}

	primary, _, _, _, _, err := ctx.TPM.CreatePrimary(ctx.TPM.OwnerHandleContext(), nil, template, nil, nil, nil)
	if err != nil {
		return nil, "", pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot create primary key for SRK")
	}
	transientSRK := newTransient(ctx, primary)
	defer transientSRK.Release()

	persisted, _, err := PersistLocation(ctx, ctx.TPM.OwnerHandleContext(), primary, constants.SRKHandle)
	if err != nil {
		// Another process may have won the race; re-look-up before
		// giving up.
		if existing, lookupErr := ctx.TPM.CreateResourceContextFromTPM(constants.SRKHandle); lookupErr == nil {
			log.Debug("lost the race to persist the SRK, reusing the winner's")
			winnerAlg, algErr := primaryAlgOf(ctx, existing)
			if algErr != nil {
				return nil, "", algErr
			}
			return newPersistent(ctx, existing), winnerAlg, nil
		}
		return nil, "", err
	}

	log.WithField("handle", constants.SRKHandle).Info("persisted new SRK")
	return newPersistent(ctx, persisted), alg, nil
}

func primaryAlgOf(ctx *transport.Context, r tpm2.ResourceContext) (string, error) {
	pub, _, _, err := ctx.TPM.ReadPublic(r)
	if err != nil {
		return "", pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot read SRK public area")
	}
	if pub.Type == tpm2.ObjectTypeECC {
		return PrimaryAlgECC, nil
	}
	return PrimaryAlgRSA, nil
}

// selectSRKTemplate prefers ECC NIST-P256, falling back to RSA-2048 when
// the chip doesn't support ECC.
func selectSRKTemplate(ctx *transport.Context) *tpm2.Public {
	if ctx.SupportsAlgorithm(tpm2.AlgorithmECC) {
		return eccSRKTemplate()
	}
	return rsaSRKTemplate()
}

// DeriveLegacyPrimary rebuilds the SRK from scratch using the plain,
// non-persisted primary template named by alg (PrimaryAlgECC or
// PrimaryAlgRSA), for unsealing blobs that predate the shared persistent
// SRK convention and carry no serialized SRK of their own. The returned
// Handle is transient: it is never persisted, matching the historical
// behavior it reproduces.
func DeriveLegacyPrimary(ctx *transport.Context, alg string) (*Handle, error) {
	var template *tpm2.Public
	switch alg {
	case PrimaryAlgECC:
		template = eccSRKTemplate()
	case PrimaryAlgRSA:
		template = rsaSRKTemplate()
	default:
		return nil, pkgerror.New(pkgerror.KindBadArgument, "unknown legacy primary algorithm %q", alg)
	}

	primary, _, _, _, _, err := ctx.TPM.CreatePrimary(ctx.TPM.OwnerHandleContext(), nil, template, nil, nil, nil)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot recreate legacy primary")
	}
	return newTransient(ctx, primary), nil
}

func eccSRKTemplate() *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeECC,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs: tpm2.AttrFixedTPM | tpm2.AttrFixedParent | tpm2.AttrSensitiveDataOrigin |
			tpm2.AttrUserWithAuth | tpm2.AttrNoDA | tpm2.AttrRestricted | tpm2.AttrDecrypt,
		Params: &tpm2.PublicParamsU{
			ECCDetail: &tpm2.ECCParams{
				Symmetric: tpm2.SymDefObject{
					Algorithm: tpm2.SymObjectAlgorithmAES,
					KeyBits:   &tpm2.SymKeyBitsU{Sym: 128},
					Mode:      &tpm2.SymModeU{Sym: tpm2.SymModeCFB},
				},
				Scheme:  tpm2.ECCScheme{Scheme: tpm2.ECCSchemeNull},
				CurveID: tpm2.ECCCurveNIST_P256,
				KDF:     tpm2.KDFScheme{Scheme: tpm2.KDFAlgorithmNull},
			},
		},
	}
}

func rsaSRKTemplate() *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs: tpm2.AttrFixedTPM | tpm2.AttrFixedParent | tpm2.AttrSensitiveDataOrigin |
			tpm2.AttrUserWithAuth | tpm2.AttrNoDA | tpm2.AttrRestricted | tpm2.AttrDecrypt,
		Params: &tpm2.PublicParamsU{
			RSADetail: &tpm2.RSAParams{
				Symmetric: tpm2.SymDefObject{
					Algorithm: tpm2.SymObjectAlgorithmAES,
					KeyBits:   &tpm2.SymKeyBitsU{Sym: 128},
					Mode:      &tpm2.SymModeU{Sym: tpm2.SymModeCFB},
				},
				Scheme:   tpm2.RSAScheme{Scheme: tpm2.RSASchemeNull},
				KeyBits:  2048,
				Exponent: 0,
			},
		},
	}
}

// StartEncryptionSession starts an HMAC session salted by srk, with
// AES-128-CFB parameter encryption enabled in both directions.
func StartEncryptionSession(ctx *transport.Context, srk tpm2.ResourceContext) (*Session, error) {
	session, err := ctx.TPM.StartAuthSession(srk, nil, tpm2.SessionTypeHMAC, transport.SymmetricParamEncryption(), tpm2.HashAlgorithmSHA256)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot start parameter encryption session")
	}
	return &Session{Session: session.WithAttrs(tpm2.AttrContinueSession | tpm2.AttrCommandEncrypt | tpm2.AttrResponseEncrypt), ctx: ctx}, nil
}

// StartPolicySession starts a trial or real policy session, salted by
// tpmKey in the current form. A trial session only builds the digest; a
// real one enforces it.
//
// legacy selects which of the two historical StartAuthSession signatures
// to issue: the current form passes tpmKey as the salt key, the legacy
// form omits it (ESYS_TR_NONE), for reading blobs sealed by engines that
// predate the salted-session convention.
func StartPolicySession(ctx *transport.Context, tpmKey tpm2.ResourceContext, trial bool, legacy bool) (*Session, error) {
	sessionType := tpm2.SessionTypePolicy
	if trial {
		sessionType = tpm2.SessionTypeTrial
	}
	salt := tpmKey
	if legacy {
		salt = nil
	}
	session, err := ctx.TPM.StartAuthSession(salt, nil, sessionType, transport.SymmetricParamEncryption(), tpm2.HashAlgorithmSHA256)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot start policy session")
	}
	return &Session{Session: session, ctx: ctx}, nil
}
