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
	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/rancher/tpm2seal/internal/handles"
	"github.com/rancher/tpm2seal/internal/transport"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// exportedSRK is the wire form of "the serialized SRK handle" spec.md's
// seal output and unseal input both refer to: the persistent handle
// value plus its public area. loadSRKFromBytes rebuilds the live
// ResourceContext from the handle value alone; the exported public area
// is not compared against the object found at that handle.
type exportedSRK struct {
	Handle tpm2.Handle
	Public *tpm2.Public
}

// marshalSRK serializes srk for embedding in a LUKS2 token's tpm2_srk
// field.
func marshalSRK(ctx *transport.Context, srk *handles.Handle) ([]byte, error) {
	pub, _, _, err := ctx.TPM.ReadPublic(srk.Resource)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot read SRK public area for export")
	}
	b, err := mu.MarshalToBytes(exportedSRK{Handle: srk.Resource.Handle(), Public: pub})
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot marshal exported SRK")
	}
	return b, nil
}

// loadSRKFromBytes rebuilds a live handle to the SRK from previously
// exported bytes, without needing to touch the well-known persistent
// location lookup path at all.
func loadSRKFromBytes(ctx *transport.Context, data []byte) (*handles.Handle, error) {
	var ex exportedSRK
	if _, err := mu.UnmarshalFromBytes(data, &ex); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed serialized SRK")
	}
	r, err := ctx.TPM.CreateResourceContextFromTPM(ex.Handle)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot reconstruct SRK from serialized handle 0x%x", ex.Handle)
	}
	return handles.NewPersistent(ctx, r), nil
}
