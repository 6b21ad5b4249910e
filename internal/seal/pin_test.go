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
	"bytes"
	"strings"
	"testing"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

func TestValidatePINLength(t *testing.T) {
	cases := []struct {
		pin     string
		wantErr bool
	}{
		{strings.Repeat("a", 3), true},
		{strings.Repeat("a", 4), false},
		{strings.Repeat("a", 32), false},
		{strings.Repeat("a", 33), true},
	}

	for _, c := range cases {
		err := ValidatePINLength(c.pin)
		if c.wantErr && err == nil {
			t.Errorf("ValidatePINLength(len=%d): expected error, got nil", len(c.pin))
		}
		if !c.wantErr && err != nil {
			t.Errorf("ValidatePINLength(len=%d): unexpected error: %v", len(c.pin), err)
		}
		if c.wantErr && err != nil && !pkgerror.Is(err, pkgerror.KindBadArgument) {
			t.Errorf("ValidatePINLength(len=%d): expected KindBadArgument, got %v", len(c.pin), err)
		}
	}
}

func TestHashPINAuthValueTrimsTrailingZeros(t *testing.T) {
	v := hashPINAuthValue("hunter2")
	if bytes.HasSuffix(v, []byte{0x00}) {
		t.Errorf("hashPINAuthValue result must not end in a zero byte, got %x", v)
	}
	if len(v) == 0 {
		t.Errorf("hashPINAuthValue returned empty result")
	}
}

func TestHashPINAuthValueIsDeterministic(t *testing.T) {
	a := hashPINAuthValue("hunter2")
	b := hashPINAuthValue("hunter2")
	if !bytes.Equal(a, b) {
		t.Errorf("hashPINAuthValue is not deterministic: %x != %x", a, b)
	}

	c := hashPINAuthValue("hunter3")
	if bytes.Equal(a, c) {
		t.Errorf("hashPINAuthValue produced the same auth value for different PINs")
	}
}
