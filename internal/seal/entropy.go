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
	"encoding/binary"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rancher/tpm2seal/internal/transport"
	"github.com/rancher/tpm2seal/pkg/constants"
)

// randPoolInfo mirrors struct rand_pool_info from <linux/random.h>: an
// entropy_count in bits, a buffer size in bytes, and the buffer itself.
type randPoolInfo struct {
	EntropyCount int32
	BufSize      int32
}

// rndAddEntropy is RNDADDENTROPY from <linux/random.h>; golang.org/x/sys
// does not expose it as a typed helper, so the ioctl number is reproduced
// here rather than pulled in as a magic literal at the call site.
const rndAddEntropy = 0x40085203

// creditTPMEntropyOnce reads constants.SecretSize bytes of TPM-sourced
// randomness and feeds them into the kernel entropy pool via
// RNDADDENTROPY, at most once per boot as tracked by
// constants.EntropyCreditFlagFile. The credited entropy_count is
// deliberately left at zero: the TPM's RNG quality varies by vendor and
// this engine does not want the kernel's estimate of available entropy
// to rely on it, so the bytes are mixed in but not counted as credited
// entropy. Failures are logged at debug and otherwise ignored — this is
// a best-effort enrichment, never a precondition for sealing.
func creditTPMEntropyOnce(ctx *transport.Context) {
	if alreadyCredited() {
		return
	}

	random, err := ctx.TPM.GetRandom(uint16(constants.SecretSize))
	if err != nil {
		ctx.Log.WithError(err).Debug("could not read TPM random bytes for entropy credit")
		return
	}

	if err := addEntropyToKernelPool(random); err != nil {
		ctx.Log.WithError(err).Debug("could not credit TPM entropy to the kernel pool")
		return
	}

	markCredited(ctx)
}

func alreadyCredited() bool {
	_, err := os.Stat(constants.EntropyCreditFlagFile)
	return err == nil
}

// markCredited is best-effort shared state: a race between two processes
// both crediting once is tolerated, the worst case is crediting twice.
func markCredited(ctx *transport.Context) {
	if err := os.MkdirAll(filepath.Dir(constants.EntropyCreditFlagFile), 0755); err != nil {
		ctx.Log.WithError(err).Debug("could not create entropy credit flag directory")
		return
	}
	if err := os.WriteFile(constants.EntropyCreditFlagFile, []byte{}, 0644); err != nil {
		ctx.Log.WithError(err).Debug("could not write entropy credit flag file")
	}
}

func addEntropyToKernelPool(random []byte) error {
	f, err := os.OpenFile("/dev/random", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, randPoolInfo{EntropyCount: 0, BufSize: int32(len(random))})
	buf.Write(random)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), rndAddEntropy, uintptr(unsafe.Pointer(&buf.Bytes()[0])))
	if errno != 0 {
		return errno
	}
	return nil
}
