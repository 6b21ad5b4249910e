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
	"crypto/sha256"

	"github.com/rancher/tpm2seal/pkg/constants"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// ValidatePINLength rejects a PIN before any TPM round-trip, per spec's
// "PIN length out of 4..32 is rejected at argument-validation time".
func ValidatePINLength(pin string) error {
	if len(pin) < constants.MinPinLen || len(pin) > constants.MaxPinLen {
		return pkgerror.New(pkgerror.KindBadArgument, "PIN length must be between %d and %d bytes, got %d", constants.MinPinLen, constants.MaxPinLen, len(pin))
	}
	return nil
}

// hashPINAuthValue hashes pin into an auth value and trims trailing zero
// bytes, a workaround for TPM spec's own auth-value trimming rule: the
// TPM itself trims trailing zero bytes off any auth value before
// comparison, so the host must perform the same trim to compute the
// matching value offline. This duplicates spec behavior on purpose; once
// the transport library performs the trim itself this can be dropped,
// but removing it early would silently break any PIN whose hash happens
// to end in a zero byte.
func hashPINAuthValue(pin string) []byte {
	digest := sha256.Sum256([]byte(pin))
	return bytes.TrimRight(digest[:], "\x00")
}
