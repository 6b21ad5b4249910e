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

// Package pcrsel is the typed PCR selection algebra: which PCRs, in which
// banks, are bound to a policy. A Bank is a 24-bit mask under one hash
// algorithm; a List is at most one Bank per distinct algorithm. Both
// support the union/difference/weight operations a policy needs, and
// round-trip through the "index[:hash[=hexvalue]]" string grammar used by
// the LUKS2 token and the CLI.
package pcrsel

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/canonical/go-tpm2"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// MaxPCR is the highest legal PCR index (0..23).
const MaxPCR = 23

// namedPCRs maps symbolic PCR names onto their index, for
// "0+boot-loader-code" style tokens: names for PCRs 0-7, plus "debug"
// and "application-support".
var namedPCRs = map[string]int{
	"platform-code":        0,
	"platform-config":      1,
	"external-code":        2,
	"external-config":      3,
	"boot-loader-code":     4,
	"boot-loader-config":   5,
	"host-platform-code":   6,
	"host-platform-config": 7,
	"secure-boot-policy":   7,
	"debug":                16,
	"application-support":  15,
}

// Bank is a single hash bank's PCR selection: a 24-bit mask where bit i
// selects PCR i.
type Bank struct {
	Hash tpm2.HashAlgorithmId
	Mask uint32
}

// FromMask builds a Bank from a raw mask and hash algorithm.
func FromMask(mask uint32, hash tpm2.HashAlgorithmId) Bank {
	return Bank{Hash: hash, Mask: mask & 0xFFFFFF}
}

// ToMask returns the bank's raw 24-bit mask.
func (b Bank) ToMask() uint32 {
	return b.Mask & 0xFFFFFF
}

// Add returns the bitwise union of b and other. Panics-free: mismatched
// hash algorithms are the caller's bug, so Add keeps b's Hash.
func (b Bank) Add(other Bank) Bank {
	return Bank{Hash: b.Hash, Mask: (b.Mask | other.Mask) & 0xFFFFFF}
}

// Sub returns b with every PCR set in other cleared.
func (b Bank) Sub(other Bank) Bank {
	return Bank{Hash: b.Hash, Mask: b.Mask &^ other.Mask & 0xFFFFFF}
}

// Weight is the popcount of the selected PCRs.
func (b Bank) Weight() int {
	n := 0
	for m := b.Mask; m != 0; m &= m - 1 {
		n++
	}
	return n
}

// IsEmpty reports whether no PCRs are selected.
func (b Bank) IsEmpty() bool {
	return b.Mask&0xFFFFFF == 0
}

// Has reports whether PCR index is selected.
func (b Bank) Has(index int) bool {
	if index < 0 || index > MaxPCR {
		return false
	}
	return b.Mask&(1<<uint(index)) != 0
}

// Indices returns the selected PCR indices in ascending order.
func (b Bank) Indices() []int {
	var out []int
	for i := 0; i <= MaxPCR; i++ {
		if b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// List is a PCR selection across multiple banks: at most one Bank per
// distinct hash algorithm. The zero value is the empty selection.
type List []Bank

// normalize collapses duplicate-hash entries by OR-combining their masks,
// the same rule to_mask applies across a list per spec.
func (l List) normalize() List {
	byHash := map[tpm2.HashAlgorithmId]uint32{}
	var order []tpm2.HashAlgorithmId
	for _, b := range l {
		if _, ok := byHash[b.Hash]; !ok {
			order = append(order, b.Hash)
		}
		byHash[b.Hash] |= b.Mask & 0xFFFFFF
	}
	out := make(List, 0, len(order))
	for _, h := range order {
		out = append(out, Bank{Hash: h, Mask: byHash[h]})
	}
	return out
}

// Add returns the per-bank union of l and other; a bank present in other
// but absent from l is appended.
func (l List) Add(other List) List {
	merged := append(List{}, l.normalize()...)
	for _, ob := range other.normalize() {
		found := false
		for i, b := range merged {
			if b.Hash == ob.Hash {
				merged[i] = b.Add(ob)
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, ob)
		}
	}
	return merged
}

// Sub returns the per-bank difference of l minus other. Banks in l with
// no matching entry in other are left untouched.
func (l List) Sub(other List) List {
	merged := append(List{}, l.normalize()...)
	for _, ob := range other.normalize() {
		for i, b := range merged {
			if b.Hash == ob.Hash {
				merged[i] = b.Sub(ob)
			}
		}
	}
	return merged
}

// Weight is the popcount of the union of every bank's selection.
func (l List) Weight() int {
	n := 0
	for _, b := range l.normalize() {
		n += b.Weight()
	}
	return n
}

// IsEmpty reports whether every bank in l selects no PCRs.
func (l List) IsEmpty() bool {
	for _, b := range l {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}

// Get returns the Bank for hash, and whether it was present.
func (l List) Get(hash tpm2.HashAlgorithmId) (Bank, bool) {
	for _, b := range l {
		if b.Hash == hash {
			return b, true
		}
	}
	return Bank{Hash: hash}, false
}

// ToTPM converts the selection into go-tpm2's wire representation, sorted
// by ascending algorithm ID the way TPM2 expects a PCRSelectionList to be
// ordered on the wire.
func (l List) ToTPM() tpm2.PCRSelectionList {
	norm := l.normalize()
	sort.Slice(norm, func(i, j int) bool { return norm[i].Hash < norm[j].Hash })
	out := make(tpm2.PCRSelectionList, 0, len(norm))
	for _, b := range norm {
		if b.IsEmpty() {
			continue
		}
		out = append(out, tpm2.PCRSelection{Hash: b.Hash, Select: b.Indices()})
	}
	return out
}

// FromTPM converts a go-tpm2 wire selection list back into a List.
func FromTPM(sel tpm2.PCRSelectionList) List {
	out := make(List, 0, len(sel))
	for _, s := range sel {
		var mask uint32
		for _, idx := range s.Select {
			if idx >= 0 && idx <= MaxPCR {
				mask |= 1 << uint(idx)
			}
		}
		out = append(out, Bank{Hash: s.Hash, Mask: mask})
	}
	return out.normalize()
}

// Value is a single (bank, index, digest) triple read back from the TPM
// or parsed from an "index:hash=hexvalue" token.
type Value struct {
	Hash  tpm2.HashAlgorithmId
	Index int
	Value []byte
}

// Valid reports whether an array of Values is sorted ascending by
// (Hash, Index) and free of duplicates, and every non-nil digest matches
// its bank's hash size.
func Valid(values []Value) bool {
	for i := 1; i < len(values); i++ {
		a, b := values[i-1], values[i]
		if a.Hash > b.Hash || (a.Hash == b.Hash && a.Index >= b.Index) {
			return false
		}
	}
	for _, v := range values {
		if v.Value == nil {
			continue
		}
		if size := v.Hash.Size(); size != 0 && len(v.Value) != size {
			return false
		}
	}
	return true
}

// Sort returns values sorted ascending by (Hash, Index); the sort is
// stable, and sorting an already-sorted, duplicate-free array is a no-op.
func Sort(values []Value) []Value {
	out := append([]Value{}, values...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hash != out[j].Hash {
			return out[i].Hash < out[j].Hash
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// ParseMask parses a comma/plus-separated list of PCR tokens
// ("0+7+14", "boot-loader-code,boot-loader-config") into a raw 24-bit
// mask. An empty string parses to mask 0. Each token may carry a
// ":hash[=hexvalue]" suffix, which ParseMask ignores (use ParseValues for
// that); this function only answers "which PCRs".
func ParseMask(s string) (uint32, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	var mask uint32
	for _, tok := range splitTokens(s) {
		idxPart := tok
		if i := strings.IndexByte(tok, ':'); i >= 0 {
			idxPart = tok[:i]
		}
		idx, err := resolveIndex(idxPart)
		if err != nil {
			return 0, err
		}
		mask |= 1 << uint(idx)
	}
	return mask, nil
}

// IndicesFromMask returns the set bits of mask as ascending PCR indices,
// the form CLI callers need to build a PreferredBank request from a
// parsed --pcrs flag before a bank has even been chosen.
func IndicesFromMask(mask uint32) []int {
	var out []int
	for i := 0; i <= MaxPCR; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// MaskToString renders mask back to its canonical "+"-separated, sorted
// decimal form, the left inverse of ParseMask on its own output.
func MaskToString(mask uint32) string {
	var parts []string
	for i := 0; i <= MaxPCR; i++ {
		if mask&(1<<uint(i)) != 0 {
			parts = append(parts, strconv.Itoa(i))
		}
	}
	return strings.Join(parts, "+")
}

// ParseValues parses a token list where each entry carries an explicit
// hash and, optionally, an expected digest: "7:sha256=0x00...00".
func ParseValues(s string) ([]Value, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []Value
	for _, tok := range splitTokens(s) {
		v, err := parseValueToken(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return Sort(out), nil
}

func parseValueToken(tok string) (Value, error) {
	idxPart := tok
	hashPart := ""
	valuePart := ""

	if i := strings.IndexByte(tok, ':'); i >= 0 {
		idxPart = tok[:i]
		rest := tok[i+1:]
		if j := strings.IndexByte(rest, '='); j >= 0 {
			hashPart, valuePart = rest[:j], rest[j+1:]
		} else {
			hashPart = rest
		}
	}

	idx, err := resolveIndex(idxPart)
	if err != nil {
		return Value{}, err
	}

	hash := tpm2.HashAlgorithmSHA256
	if hashPart != "" {
		hash, err = parseHashAlgorithm(hashPart)
		if err != nil {
			return Value{}, err
		}
	}

	v := Value{Hash: hash, Index: idx}
	if valuePart != "" {
		raw := strings.TrimPrefix(valuePart, "0x")
		digest, err := hex.DecodeString(raw)
		if err != nil {
			return Value{}, pkgerror.New(pkgerror.KindBadArgument, "malformed PCR digest %q: %v", valuePart, err)
		}
		if size := hash.Size(); size != 0 && len(digest) != size {
			return Value{}, pkgerror.New(pkgerror.KindBadArgument, "PCR digest for %s must be %d bytes, got %d", hash, size, len(digest))
		}
		v.Value = digest
	}
	return v, nil
}

func resolveIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, ok := namedPCRs[s]; ok {
		return n, nil
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, pkgerror.New(pkgerror.KindBadArgument, "invalid PCR index %q", s)
	}
	if idx < 0 || idx > MaxPCR {
		return 0, pkgerror.New(pkgerror.KindBadArgument, "PCR index %d out of range [0,%d]", idx, MaxPCR)
	}
	return idx, nil
}

func parseHashAlgorithm(s string) (tpm2.HashAlgorithmId, error) {
	switch strings.ToLower(s) {
	case "sha1":
		return tpm2.HashAlgorithmSHA1, nil
	case "sha256":
		return tpm2.HashAlgorithmSHA256, nil
	case "sha384":
		return tpm2.HashAlgorithmSHA384, nil
	case "sha512":
		return tpm2.HashAlgorithmSHA512, nil
	default:
		return 0, pkgerror.New(pkgerror.KindBadArgument, "unknown PCR bank %q", s)
	}
}

func splitTokens(s string) []string {
	s = strings.ReplaceAll(s, "+", ",")
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (b Bank) String() string {
	return fmt.Sprintf("%s=%s", b.Hash, MaskToString(b.ToMask()))
}
