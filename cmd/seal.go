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
	"encoding/base64"
	"encoding/hex"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/tpm2seal/internal/policy"
	"github.com/rancher/tpm2seal/internal/seal"
	"github.com/rancher/tpm2seal/pkg/constants"
	"github.com/rancher/tpm2seal/pkg/luks2token"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
)

// NewSealCmd builds the "seal" subcommand: generate a secret, bind it to
// a PCR/PIN policy, and write the resulting blob (and, optionally, the
// serialized SRK and a ready-to-enroll LUKS2 token) to disk.
func NewSealCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "seal",
		Short: "Seal a freshly generated secret against this TPM's PCR/PIN policy",
		Args:  cobra.ExactArgs(0),
		RunE:  runSeal,
	}
	c.Flags().String("pcrs", "", "PCR selection to bind, e.g. \"0+7+14\"")
	c.Flags().String("bank", "", "PCR bank to use (sha1, sha256); default: automatic")
	c.Flags().Bool("pin", false, "Also require a PIN at unseal time (read from the PIN environment variable)")
	c.Flags().Bool("export-srk", true, "Write the serialized SRK alongside the blob")
	c.Flags().Bool("credit-entropy", false, "Credit TPM-sourced randomness to the kernel entropy pool once per boot")
	c.Flags().String("blob-out", "sealed.blob", "Path to write the sealed blob to")
	c.Flags().String("srk-out", "sealed.srk", "Path to write the serialized SRK to, when --export-srk is set")
	c.Flags().String("token-out", "", "Also write a systemd-tpm2 LUKS2 token JSON document to this path")
	c.Flags().String("secret-out", "", "Write the generated secret (hex-encoded) to this path instead of discarding it")
	return c
}

func runSeal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pcrsFlag, _ := cmd.Flags().GetString("pcrs")
	bankFlag, _ := cmd.Flags().GetString("bank")
	withPIN, _ := cmd.Flags().GetBool("pin")
	exportSRK, _ := cmd.Flags().GetBool("export-srk")
	creditEntropy, _ := cmd.Flags().GetBool("credit-entropy")
	blobOut, _ := cmd.Flags().GetString("blob-out")
	srkOut, _ := cmd.Flags().GetString("srk-out")
	tokenOut, _ := cmd.Flags().GetString("token-out")
	secretOut, _ := cmd.Flags().GetString("secret-out")

	mask, err := pcrsel.ParseMask(pcrsFlag)
	if err != nil {
		return err
	}

	ctx, err := openTransport(cfg, "")
	if err != nil {
		return err
	}
	defer ctx.Close()

	hash, err := resolvePCRBank(ctx, cfg, bankFlag, mask)
	if err != nil {
		return err
	}

	values, err := ctx.ReadPCRs(pcrsel.List{pcrsel.FromMask(mask, hash)})
	if err != nil {
		return err
	}

	var pin string
	if withPIN {
		pin, err = readPINFromEnv()
		if err != nil {
			return err
		}
	}

	policyParams := policy.Params{PCRs: values, HasPIN: withPIN}
	digest, err := policy.ComputeOffline(policyParams)
	if err != nil {
		return err
	}

	result, err := seal.Seal(ctx, seal.Params{
		PolicyDigest:  digest,
		PIN:           pin,
		CreditEntropy: creditEntropy || cfg.CreditEntropy,
		ExportSRK:     exportSRK,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(blobOut, result.Blob, 0600); err != nil {
		return err
	}
	cfg.Logger.WithField("path", blobOut).Info("wrote sealed blob")

	if secretOut != "" {
		if err := os.WriteFile(secretOut, []byte(hex.EncodeToString(result.Secret)), 0600); err != nil {
			return err
		}
		cfg.Logger.WithField("path", secretOut).Warn("wrote the unsealed secret to disk in cleartext")
	}

	if exportSRK {
		if err := os.WriteFile(srkOut, result.SRK, 0600); err != nil {
			return err
		}
		cfg.Logger.WithField("path", srkOut).Info("wrote serialized SRK")
	}

	if tokenOut != "" {
		token := &luks2token.Token{
			Blob:       base64.StdEncoding.EncodeToString(result.Blob),
			PCRs:       pcrsel.IndicesFromMask(mask),
			PolicyHash: hex.EncodeToString(digest.Bytes()),
			PCRBank:    bankName(hash),
			PrimaryAlg: result.PrimaryAlg,
			PIN:        withPIN,
		}
		if exportSRK {
			token.SRK = base64.StdEncoding.EncodeToString(result.SRK)
		}
		encoded, err := luks2token.Encode(token)
		if err != nil {
			return err
		}
		if err := os.WriteFile(tokenOut, encoded, 0600); err != nil {
			return err
		}
		cfg.Logger.WithField("path", tokenOut).Info("wrote LUKS2 token")
	}

	cfg.Logger.Info("secret sealed successfully")
	return nil
}

func readPINFromEnv() (string, error) {
	pin := os.Getenv(constants.PinEnvVar)
	if pin == "" {
		return "", nil
	}
	_ = os.Unsetenv(constants.PinEnvVar)
	if err := seal.ValidatePINLength(pin); err != nil {
		return "", err
	}
	return pin, nil
}
