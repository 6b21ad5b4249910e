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

// Package transport owns the process's single live connection to a TPM2
// chip: loading the driver-specific channel, starting the chip, and
// paging through its capability tables. Nothing above this package talks
// to the wire protocol directly.
package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/linux"
	"github.com/sirupsen/logrus"

	"github.com/rancher/tpm2seal/pkg/constants"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
)

// driverNamePattern validates a driver name before it is used in any file
// lookup, so a device spec can never be turned into a path traversal.
var driverNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Capabilities summarizes what the chip and this process can do with it.
// The bit layout is a stable ABI: callers that propagate it as an exit
// status rely on the field order never changing.
type Capabilities struct {
	Firmware   bool // chip responded to Startup
	Driver     bool // transport channel opened successfully
	Subsystem  bool // AES-CFB parameter encryption profile usable
	System     bool // SHA-1 or SHA-256 PCR bank qualifies
	Libraries  bool // go-tpm2 linked and usable
}

// Context is a process-owned handle to a live TPM session: the loaded
// transport, the high-level TPMContext, and the three capability caches
// populated during Open. Not thread-safe; one Context per worker.
type Context struct {
	TPM *tpm2.TPMContext
	Log *logrus.Entry

	DeviceSpec string

	Algorithms tpm2.AlgorithmPropertyList
	Commands   tpm2.CommandAttributesList
	PCRBanks   pcrsel.List

	caps Capabilities
}

// Open resolves a device spec, loads the matching transport, starts the
// TPM, and populates the capability caches. spec is either
// "driver:param" (e.g. "device:/dev/tpmrm0"), an absolute device path
// (treated as the "device" driver), or empty (falls back to
// SYSTEMD_TPM2_DEVICE, or constants.DefaultDeviceSpec if that is also
// unset; an explicitly empty env var defers to driver auto-discovery).
func Open(spec string) (*Context, error) {
	resolved, err := resolveDeviceSpec(spec)
	if err != nil {
		return nil, err
	}

	driver, param, err := splitDeviceSpec(resolved)
	if err != nil {
		return nil, err
	}

	tcti, err := loadTransport(driver, param)
	if err != nil {
		return nil, err
	}

	tpm := tpm2.NewTPMContext(tcti)
	log := logrus.WithField("component", "transport")

	ctx := &Context{TPM: tpm, Log: log, DeviceSpec: resolved}

	if err := ctx.startup(); err != nil {
		tpm.Close()
		return nil, err
	}

	if err := ctx.populateCapabilities(); err != nil {
		tpm.Close()
		return nil, err
	}

	if err := ctx.checkInvariants(); err != nil {
		tpm.Close()
		return nil, err
	}

	return ctx, nil
}

// Close releases the underlying transport. Callers must not use the
// Context afterwards.
func (c *Context) Close() error {
	return c.TPM.Close()
}

// Capabilities returns the stable support-flag summary computed at Open.
func (c *Context) Capabilities() Capabilities {
	return c.caps
}

func resolveDeviceSpec(spec string) (string, error) {
	if spec != "" {
		return spec, nil
	}
	if v, ok := os.LookupEnv(constants.DeviceEnvVar); ok {
		if v == "" {
			// Empty env var explicitly defers to the transport's own
			// discovery mechanism rather than a hardcoded default.
			return discoverDefaultDevice()
		}
		return v, nil
	}
	return constants.DefaultDeviceSpec, nil
}

func splitDeviceSpec(spec string) (driver, param string, err error) {
	if strings.HasPrefix(spec, "/") {
		return "device", spec, nil
	}
	parts := strings.SplitN(spec, ":", 2)
	driver = parts[0]
	if len(parts) == 2 {
		param = parts[1]
	}
	if !driverNamePattern.MatchString(driver) {
		return "", "", pkgerror.New(pkgerror.KindBadArgument, "invalid transport driver name %q", driver)
	}
	return driver, param, nil
}

// discoverDefaultDevice lists the entries of /sys/class/tpmrm and maps
// each <name> to /dev/<name>; automatic selection requires exactly one
// entry. The device and driver symlinks under each entry are not read.
func discoverDefaultDevice() (string, error) {
	entries, err := os.ReadDir("/sys/class/tpmrm")
	if err != nil {
		return "", pkgerror.Wrap(pkgerror.KindNotFound, err, "no TPM resource manager devices found")
	}
	var found []string
	for _, e := range entries {
		found = append(found, filepath.Join("/dev", e.Name()))
	}
	if len(found) != 1 {
		return "", pkgerror.New(pkgerror.KindNotFound, "automatic device discovery requires exactly one tpmrm device, found %d", len(found))
	}
	return "device:" + found[0], nil
}

// loadTransport dispatches on driver name to the matching TCTI
// constructor. Only "device" is implemented directly; other drivers are
// rejected as unavailable rather than silently misinterpreted.
func loadTransport(driver, param string) (tpm2.TCTI, error) {
	switch driver {
	case "device":
		if param == "" {
			param = "/dev/tpmrm0"
		}
		tcti, err := linux.OpenDevice(param)
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindUnavailableTransport, err, "cannot open TPM device %q", param)
		}
		return tcti, nil
	default:
		return nil, pkgerror.New(pkgerror.KindUnavailableTransport, "unsupported transport driver %q", driver)
	}
}

// startup issues TPM2_Startup(CLEAR); "already started" is success.
func (c *Context) startup() error {
	err := c.TPM.RunCommand(tpm2.CommandStartup, nil, tpm2.StartupTypeClear)
	if err == nil {
		c.caps.Firmware = true
		c.caps.Driver = true
		return nil
	}
	if isAlreadyStarted(err) {
		c.caps.Firmware = true
		c.caps.Driver = true
		return nil
	}
	return pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "TPM2_Startup failed")
}

func isAlreadyStarted(err error) bool {
	return strings.Contains(err.Error(), "TPM_RC_INITIALIZE")
}

// populateCapabilities queries GetCapability for supported algorithms,
// supported commands, and the PCR bank allocation. The algorithm and
// command queries are paginated: each call continues from the
// last-returned property + 1 until moreData is false. The PCR bank
// allocation comes from a single query and is not paged.
func (c *Context) populateCapabilities() error {
	algs, err := c.pageAlgorithms()
	if err != nil {
		return err
	}
	c.Algorithms = algs

	cmds, err := c.pageCommands()
	if err != nil {
		return err
	}
	c.Commands = cmds

	banks, err := c.pagePCRBanks()
	if err != nil {
		return err
	}
	c.PCRBanks = banks

	c.caps.Libraries = true
	return nil
}

func (c *Context) pageAlgorithms() (tpm2.AlgorithmPropertyList, error) {
	var out tpm2.AlgorithmPropertyList
	next := tpm2.AlgorithmId(0)
	for {
		more, data, err := c.TPM.GetCapability(tpm2.CapabilityAlgs, uint32(next), 128)
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot query supported algorithms")
		}
		algs := data.Data.Algorithms
		out = append(out, algs...)
		if !more || len(algs) == 0 {
			return out, nil
		}
		next = algs[len(algs)-1].Alg + 1
	}
}

func (c *Context) pageCommands() (tpm2.CommandAttributesList, error) {
	var out tpm2.CommandAttributesList
	next := tpm2.CommandCode(0)
	for {
		more, data, err := c.TPM.GetCapability(tpm2.CapabilityCommands, uint32(next), 128)
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot query supported commands")
		}
		cmds := data.Data.Command
		out = append(out, cmds...)
		if !more || len(cmds) == 0 {
			return out, nil
		}
		next = cmds[len(cmds)-1].CommandCode() + 1
	}
}

func (c *Context) pagePCRBanks() (pcrsel.List, error) {
	_, data, err := c.TPM.GetCapability(tpm2.CapabilityPCRs, 0, 8)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindUnrecoverable, err, "cannot query PCR bank allocation")
	}
	return pcrsel.FromTPM(data.Data.AssignedPCR), nil
}

// checkInvariants enforces the §4.A post-open invariants by checking
// that AES and CFB both appear in the cached algorithm list. The 128-bit
// AES-CFB session encryption profile is not tested with the TPM
// separately.
func (c *Context) checkInvariants() error {
	hasAES, hasCFB := false, false
	for _, a := range c.Algorithms {
		switch a.Alg {
		case tpm2.AlgorithmAES:
			hasAES = true
		case tpm2.AlgorithmCFB:
			hasCFB = true
		}
	}
	if !hasAES || !hasCFB {
		return pkgerror.New(pkgerror.KindUnrecoverable, "TPM does not support the AES-CFB parameter encryption profile (AES=%v CFB=%v)", hasAES, hasCFB)
	}
	c.caps.Subsystem = true

	for _, b := range c.PCRBanks {
		if b.Hash == tpm2.HashAlgorithmSHA1 || b.Hash == tpm2.HashAlgorithmSHA256 {
			c.caps.System = true
			break
		}
	}
	return nil
}

// SupportsAlgorithm reports whether alg appeared in the cached supported
// algorithm list populated at Open.
func (c *Context) SupportsAlgorithm(alg tpm2.AlgorithmId) bool {
	for _, a := range c.Algorithms {
		if a.Alg == alg {
			return true
		}
	}
	return false
}

// SymmetricParamEncryption is the AES-128-CFB algorithm used to protect
// session parameters, shared by every session this engine creates.
func SymmetricParamEncryption() *tpm2.SymDef {
	return &tpm2.SymDef{
		Algorithm: tpm2.SymAlgorithmAES,
		KeyBits:   &tpm2.SymKeyBitsU{Sym: 128},
		Mode:      &tpm2.SymModeU{Sym: tpm2.SymModeCFB},
	}
}

func (c Capabilities) String() string {
	return fmt.Sprintf("firmware=%v driver=%v subsystem=%v system=%v libraries=%v",
		c.Firmware, c.Driver, c.Subsystem, c.System, c.Libraries)
}
