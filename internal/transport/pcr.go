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

package transport

import (
	"bytes"

	"github.com/canonical/go-tpm2"

	"github.com/rancher/tpm2seal/pkg/constants"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
)

// ReadPCRs reads every (bank, index) named by sel, batching requests to
// the TPM's per-call limit of 8 PCRs. It loops, subtracting the PCRs it
// has already read from the remaining selection, until nothing remains
// or the TPM returns an empty read — which this engine treats as "these
// PCRs are not implemented on this bank" rather than an error, logging a
// warning and stopping.
func (c *Context) ReadPCRs(sel pcrsel.List) ([]pcrsel.Value, error) {
	remaining := sel
	var out []pcrsel.Value

	for !remaining.IsEmpty() {
		batch := takeBatch(remaining, 8)

		_, values, err := c.TPM.PCRRead(batch.ToTPM())
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "PCRRead failed")
		}

		read := pcrsel.List{}
		any := false
		for hash, byIndex := range values {
			if len(byIndex) == 0 {
				continue
			}
			var mask uint32
			for idx, digest := range byIndex {
				out = append(out, pcrsel.Value{Hash: hash, Index: idx, Value: digest})
				mask |= 1 << uint(idx)
				any = true
			}
			read = read.Add(pcrsel.List{pcrsel.FromMask(mask, hash)})
		}

		if !any {
			c.Log.WithField("selection", remaining).Warn("TPM returned no PCR values; bank not implemented, stopping")
			break
		}

		remaining = remaining.Sub(read)
	}

	return pcrsel.Sort(out), nil
}

// takeBatch returns at most n PCRs of sel, preferring to fill one bank at
// a time before moving to the next, matching the order PCRRead is
// expected to return values in.
func takeBatch(sel pcrsel.List, n int) pcrsel.List {
	var out pcrsel.List
	remaining := n
	for _, b := range sel {
		if remaining <= 0 {
			break
		}
		indices := b.Indices()
		if len(indices) > remaining {
			indices = indices[:remaining]
		}
		var mask uint32
		for _, idx := range indices {
			mask |= 1 << uint(idx)
		}
		if mask != 0 {
			out = append(out, pcrsel.FromMask(mask, b.Hash))
			remaining -= len(indices)
		}
	}
	return out
}

// BankUsable reports whether bank has all 24 PCRs allocated — the
// prerequisite for being considered at all, independent of what's
// currently measured into it.
func (c *Context) BankUsable(hash tpm2.HashAlgorithmId) bool {
	b, ok := c.PCRBanks.Get(hash)
	if !ok {
		return false
	}
	return b.Weight() >= constants.MinPCRBanks
}

// BankGood reports whether bank is usable AND at least one of the
// requested PCRs currently holds a digest that is neither all-zero nor
// all-0xFF — the heuristic that distinguishes a bank actually reflecting
// boot state from one nobody ever extended.
func (c *Context) BankGood(hash tpm2.HashAlgorithmId, requested []int) (bool, error) {
	if !c.BankUsable(hash) {
		return false, nil
	}

	var mask uint32
	for _, idx := range requested {
		if idx >= 0 && idx <= pcrsel.MaxPCR {
			mask |= 1 << uint(idx)
		}
	}
	if mask == 0 {
		return false, nil
	}

	values, err := c.ReadPCRs(pcrsel.List{pcrsel.FromMask(mask, hash)})
	if err != nil {
		return false, err
	}

	size := hash.Size()
	zero := bytes.Repeat([]byte{0x00}, size)
	ones := bytes.Repeat([]byte{0xFF}, size)
	for _, v := range values {
		if !bytes.Equal(v.Value, zero) && !bytes.Equal(v.Value, ones) {
			return true, nil
		}
	}
	return false, nil
}

// PreferredBank chooses the automatic bank for requested PCRs, in order
// SHA-256 good > SHA-1 good > SHA-256 usable > SHA-1 usable, logging a
// visible warning whenever it falls back below a "good" SHA-256 bank.
// The fallback to an unvalidated (usable but not good) bank happens here,
// with a warning; PreferredBank returns KindUnsupported only when no
// SHA-1/SHA-256 bank is even usable.
func (c *Context) PreferredBank(requested []int) (tpm2.HashAlgorithmId, error) {
	sha256Good, err := c.BankGood(tpm2.HashAlgorithmSHA256, requested)
	if err != nil {
		return 0, err
	}
	if sha256Good {
		return tpm2.HashAlgorithmSHA256, nil
	}

	sha1Good, err := c.BankGood(tpm2.HashAlgorithmSHA1, requested)
	if err != nil {
		return 0, err
	}
	if sha1Good {
		c.Log.Warn("falling back to the SHA-1 PCR bank; this reduces the security level substantially")
		return tpm2.HashAlgorithmSHA1, nil
	}

	if c.BankUsable(tpm2.HashAlgorithmSHA256) {
		c.Log.Warn("no PCR bank has a measured (non-zero, non-0xFF) value for the requested PCRs; sealing against an unvalidated SHA-256 bank, this reduces the security level substantially")
		return tpm2.HashAlgorithmSHA256, nil
	}
	if c.BankUsable(tpm2.HashAlgorithmSHA1) {
		c.Log.Warn("falling back to an unvalidated SHA-1 PCR bank; this reduces the security level substantially")
		return tpm2.HashAlgorithmSHA1, nil
	}

	return 0, pkgerror.New(pkgerror.KindUnsupported, "no SHA-1 or SHA-256 PCR bank qualifies for sealing")
}
