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

package cmd

import (
	"github.com/canonical/go-tpm2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdconfig "github.com/rancher/tpm2seal/cmd/config"
	"github.com/rancher/tpm2seal/internal/transport"
	"github.com/rancher/tpm2seal/pkg/config"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
)

// loadConfig reads the engine configuration for cmd and sets the global
// logrus logger to match it, so internal/transport's own
// logrus.WithField calls inherit the CLI's level/output/format instead of
// logrus's untouched defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := cmdconfig.ReadConfig(viper.GetString("config-dir"), cmd.Flags())
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot read configuration")
	}
	logrus.SetLevel(cfg.Logger.GetLevel())
	logrus.SetOutput(cfg.Logger.Out)
	logrus.SetFormatter(cfg.Logger.Formatter)
	return cfg, nil
}

// openTransport opens the TPM named by cfg.DeviceSpec (or spec, when
// non-empty, overriding it), the shared first step of every subcommand
// that talks to the chip.
func openTransport(cfg *config.Config, spec string) (*transport.Context, error) {
	if spec == "" {
		spec = cfg.DeviceSpec
	}
	return transport.Open(spec)
}

// resolvePCRBank chooses the hash bank a seal/unseal should run against:
// bankFlag when set, else the first of cfg.BankPreference that qualifies,
// else Context.PreferredBank's own heuristic.
func resolvePCRBank(ctx *transport.Context, cfg *config.Config, bankFlag string, mask uint32) (tpm2.HashAlgorithmId, error) {
	if bankFlag != "" {
		return parseBankName(bankFlag)
	}

	requested := pcrsel.IndicesFromMask(mask)

	for _, name := range cfg.BankPreference {
		hash, err := parseBankName(name)
		if err != nil {
			continue
		}
		good, err := ctx.BankGood(hash, requested)
		if err != nil {
			return 0, err
		}
		if good {
			return hash, nil
		}
	}

	return ctx.PreferredBank(requested)
}

func parseBankName(s string) (tpm2.HashAlgorithmId, error) {
	switch s {
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

func bankName(hash tpm2.HashAlgorithmId) string {
	switch hash {
	case tpm2.HashAlgorithmSHA1:
		return "sha1"
	case tpm2.HashAlgorithmSHA256:
		return "sha256"
	case tpm2.HashAlgorithmSHA384:
		return "sha384"
	case tpm2.HashAlgorithmSHA512:
		return "sha512"
	default:
		return "unknown"
	}
}
