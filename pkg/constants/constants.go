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

package constants

import "github.com/canonical/go-tpm2"

const (
	// DefaultDeviceSpec is used when SYSTEMD_TPM2_DEVICE is unset.
	DefaultDeviceSpec = "device:/dev/tpmrm0"

	// DeviceEnvVar overrides the device spec passed to transport.Open.
	DeviceEnvVar = "SYSTEMD_TPM2_DEVICE"

	// PinEnvVar may supply a PIN in non-interactive mode; it must be
	// unset and erased by the caller after being read.
	PinEnvVar = "PIN"

	// MinPinLen and MaxPinLen bound an acceptable PIN length. Values
	// outside this range are rejected before any TPM round-trip.
	MinPinLen = 4
	MaxPinLen = 32

	// RetryUnsealMax bounds the unseal PCR-race retry loop.
	RetryUnsealMax = 30

	// MinPCRBanks is the PCR count a bank must expose in full to be
	// considered usable.
	MinPCRBanks = 24

	// EntropyCreditFlagFile marks that TPM-sourced entropy has already
	// been credited to the kernel pool this boot.
	EntropyCreditFlagFile = "/run/tpm2seal/tpm-rng-credited"

	// SecretSize is the length, in bytes, of the generated sealed secret.
	SecretSize = 32
)

var (
	// PersistentHandleRangeStart and PersistentHandleRangeEnd bound the
	// locations tried when persisting a new object (e.g. the SRK).
	PersistentHandleRangeStart = tpm2.Handle(0x81000000)
	PersistentHandleRangeEnd   = tpm2.Handle(0x81FFFFFF)

	// SRKHandle is the well-known, shared persistent location for the
	// Storage Root Key.
	SRKHandle = tpm2.Handle(0x81000001)
)
