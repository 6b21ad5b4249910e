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

package pcrsel

import (
	"strings"
	"testing"

	"github.com/canonical/go-tpm2"
	"github.com/google/go-cmp/cmp"
)

func TestParseMask(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"0+7+14", 0x4081},
		{"boot-loader-code,boot-loader-config", 0x30},
		{"", 0},
	}
	for _, c := range cases {
		got, err := ParseMask(c.in)
		if err != nil {
			t.Fatalf("ParseMask(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseMask(%q) = 0x%x, want 0x%x", c.in, got, c.want)
		}
	}
}

func TestParseMaskRoundTrip(t *testing.T) {
	for mask := uint32(0); mask < 1<<24; mask += 104729 {
		s := MaskToString(mask)
		got, err := ParseMask(s)
		if err != nil {
			t.Fatalf("ParseMask(%q): %v", s, err)
		}
		if got != mask {
			t.Errorf("round trip of 0x%x via %q produced 0x%x", mask, s, got)
		}
	}
}

func TestParseValuesZeroDigest(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	values, err := ParseValues("7:sha256=0x" + zeros)
	if err != nil {
		t.Fatalf("ParseValues: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(values))
	}
	v := values[0]
	if v.Index != 7 || v.Hash != tpm2.HashAlgorithmSHA256 {
		t.Fatalf("unexpected value %+v", v)
	}
	if len(v.Value) != 32 {
		t.Fatalf("expected 32-byte digest, got %d", len(v.Value))
	}
	for _, b := range v.Value {
		if b != 0 {
			t.Fatalf("expected all-zero digest, got %x", v.Value)
		}
	}
	if !Valid(values) {
		t.Fatalf("expected values to be valid")
	}
}

func TestBankAddSub(t *testing.T) {
	a := FromMask(0b1010, tpm2.HashAlgorithmSHA256)
	b := FromMask(0b0110, tpm2.HashAlgorithmSHA256)

	if got, want := a.Add(b).ToMask(), a.ToMask()|b.ToMask(); got != want {
		t.Errorf("Add: got 0x%x want 0x%x", got, want)
	}
	if got, want := a.Sub(b).ToMask(), a.ToMask()&^b.ToMask(); got != want {
		t.Errorf("Sub: got 0x%x want 0x%x", got, want)
	}
}

func TestListAddSubAcrossBanks(t *testing.T) {
	a := List{FromMask(0xF, tpm2.HashAlgorithmSHA256)}
	b := List{FromMask(0x3, tpm2.HashAlgorithmSHA1)}

	merged := a.Add(b)
	if len(merged) != 2 {
		t.Fatalf("expected 2 banks after merging distinct hashes, got %d", len(merged))
	}

	sub := merged.Sub(List{FromMask(0x3, tpm2.HashAlgorithmSHA256)})
	sha256Bank, ok := sub.Get(tpm2.HashAlgorithmSHA256)
	if !ok {
		t.Fatalf("expected SHA-256 bank to survive Sub")
	}
	if sha256Bank.ToMask() != 0xC {
		t.Errorf("Sub left mask 0x%x, want 0xC", sha256Bank.ToMask())
	}
}

func TestSortIdempotentAndStable(t *testing.T) {
	values := []Value{
		{Hash: tpm2.HashAlgorithmSHA256, Index: 7},
		{Hash: tpm2.HashAlgorithmSHA1, Index: 3},
		{Hash: tpm2.HashAlgorithmSHA256, Index: 1},
	}
	once := Sort(values)
	twice := Sort(once)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("Sort is not idempotent (-once +twice):\n%s", diff)
	}
	if !Valid(once) {
		t.Errorf("sorted output should be valid")
	}

	equalKeys := []Value{
		{Hash: tpm2.HashAlgorithmSHA256, Index: 7, Value: []byte{1}},
		{Hash: tpm2.HashAlgorithmSHA1, Index: 3},
		{Hash: tpm2.HashAlgorithmSHA256, Index: 7, Value: []byte{2}},
	}
	sorted := Sort(equalKeys)
	if sorted[1].Value[0] != 1 || sorted[2].Value[0] != 2 {
		t.Errorf("Sort is not stable for equal (hash, index) keys: %+v", sorted)
	}
}

func TestValidRejectsDuplicates(t *testing.T) {
	values := []Value{
		{Hash: tpm2.HashAlgorithmSHA256, Index: 7},
		{Hash: tpm2.HashAlgorithmSHA256, Index: 7},
	}
	if Valid(values) {
		t.Errorf("duplicate (hash, index) pairs must be invalid")
	}
}

func TestToTPMFromTPMRoundTrip(t *testing.T) {
	l := List{FromMask(0x4081, tpm2.HashAlgorithmSHA256)}
	back := FromTPM(l.ToTPM())
	if diff := cmp.Diff(l.normalize(), back); diff != "" {
		t.Errorf("ToTPM/FromTPM round trip mismatch (-want +got):\n%s", diff)
	}
}
