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
	"fmt"
	"os"
	"strings"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
	"github.com/spf13/cobra"

	"github.com/rancher/tpm2seal/internal/policy"
	"github.com/rancher/tpm2seal/internal/seal"
	pkgerror "github.com/rancher/tpm2seal/pkg/error"
	"github.com/rancher/tpm2seal/pkg/luks2token"
	"github.com/rancher/tpm2seal/pkg/pcrsel"
	"github.com/rancher/tpm2seal/pkg/sigfile"
)

// NewUnsealCmd builds the "unseal" subcommand: reconstruct the policy a
// blob was sealed under, drive the PCR-race retry loop, and print (or
// save) the recovered secret.
func NewUnsealCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "unseal",
		Short: "Recover a secret previously sealed against this TPM",
		Args:  cobra.ExactArgs(0),
		RunE:  runUnseal,
	}
	c.Flags().String("token", "", "Read blob, PCRs, bank, SRK and policy hash from a systemd-tpm2 LUKS2 token JSON file")
	c.Flags().String("blob", "", "Path to the sealed blob (ignored when --token is set)")
	c.Flags().String("srk", "", "Path to the serialized SRK (ignored when --token is set)")
	c.Flags().String("primary-alg", "", "Legacy primary algorithm (ecc, rsa) to re-derive the SRK when no serialized SRK is available")
	c.Flags().String("pcrs", "", "PCR selection the blob was sealed against, e.g. \"0+7+14\" (ignored when --token is set)")
	c.Flags().String("bank", "", "PCR bank the blob was sealed against (ignored when --token is set)")
	c.Flags().Bool("pin", false, "The blob requires a PIN (read from the PIN environment variable)")
	c.Flags().String("pubkey", "", "Path to a base64-encoded, marshalled public area of the authorizing key, for a signed-policy unseal")
	c.Flags().String("policy-ref", "", "Hex-encoded policy reference bound to --pubkey")
	c.Flags().String("sigfile", "", "Path to the signature collection document for a signed-policy unseal")
	c.Flags().String("expected-digest", "", "Hex-encoded policy digest the live session must match before unsealing")
	c.Flags().String("out", "", "Write the recovered secret (hex-encoded) to this path instead of stdout")
	c.Flags().Bool("legacy-policy-session", false, "Use the older policy-session start signature, for blobs sealed before this engine salted policy sessions")
	return c
}

func runUnseal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tokenPath, _ := cmd.Flags().GetString("token")
	blobPath, _ := cmd.Flags().GetString("blob")
	srkPath, _ := cmd.Flags().GetString("srk")
	primaryAlg, _ := cmd.Flags().GetString("primary-alg")
	pcrsFlag, _ := cmd.Flags().GetString("pcrs")
	bankFlag, _ := cmd.Flags().GetString("bank")
	withPIN, _ := cmd.Flags().GetBool("pin")
	pubkeyPath, _ := cmd.Flags().GetString("pubkey")
	policyRefHex, _ := cmd.Flags().GetString("policy-ref")
	sigfilePath, _ := cmd.Flags().GetString("sigfile")
	expectedDigestHex, _ := cmd.Flags().GetString("expected-digest")
	outPath, _ := cmd.Flags().GetString("out")
	legacyFlag, _ := cmd.Flags().GetBool("legacy-policy-session")
	legacy := legacyFlag || cfg.LegacyPolicySessionSignature

	req, err := resolveUnsealRequest(tokenPath, blobPath, srkPath, primaryAlg, pcrsFlag, bankFlag)
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

	ctx, err := openTransport(cfg, "")
	if err != nil {
		return err
	}
	defer ctx.Close()

	bankHash, err := parseBankName(req.bank)
	if err != nil {
		return err
	}

	values, err := ctx.ReadPCRs(pcrsel.List{pcrsel.FromMask(req.mask, bankHash)})
	if err != nil {
		return err
	}

	policyParams := policy.Params{PCRs: values, HasPIN: withPIN}

	var signatures sigfile.Collection
	if pubkeyPath != "" {
		key, err := loadPublicKeyFile(pubkeyPath)
		if err != nil {
			return err
		}
		policyParams.AuthorizeKey = key
		if policyRefHex != "" {
			ref, err := hex.DecodeString(policyRefHex)
			if err != nil {
				return pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed --policy-ref")
			}
			policyParams.PolicyRef = ref
		}
		if sigfilePath != "" {
			raw, err := os.ReadFile(sigfilePath)
			if err != nil {
				return pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot read --sigfile")
			}
			signatures, err = sigfile.Parse(raw)
			if err != nil {
				return err
			}
		}
	}

	var expectedDigest *policy.Digest
	if expectedDigestHex == "" && req.policyHash != "" {
		expectedDigestHex = req.policyHash
	}
	if expectedDigestHex != "" {
		raw, err := hex.DecodeString(expectedDigestHex)
		if err != nil {
			return pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed --expected-digest")
		}
		var d policy.Digest
		copy(d[:], raw)
		expectedDigest = &d
	}

	secret, err := seal.Unseal(ctx, seal.UnsealParams{
		Blob:           req.blob,
		SRK:            req.srk,
		PrimaryAlg:     req.primaryAlg,
		Policy:         policyParams,
		ExpectedDigest: expectedDigest,
		BankName:       req.bank,
		Signatures:     signatures,
		PIN:            pin,
		Legacy:         legacy,
	})
	if err != nil {
		return err
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(hex.EncodeToString(secret)), 0600); err != nil {
			return err
		}
		cfg.Logger.WithField("path", outPath).Info("wrote recovered secret")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(secret))
	return nil
}

// unsealRequest is the resolved set of inputs Unseal needs, gathered
// either from individual flags or from a LUKS2 token document.
type unsealRequest struct {
	blob       []byte
	srk        []byte
	primaryAlg string
	mask       uint32
	bank       string
	policyHash string
}

func resolveUnsealRequest(tokenPath, blobPath, srkPath, primaryAlg, pcrsFlag, bankFlag string) (*unsealRequest, error) {
	if tokenPath != "" {
		raw, err := os.ReadFile(tokenPath)
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot read --token")
		}
		t, err := luks2token.Decode(raw)
		if err != nil {
			return nil, err
		}
		blob, err := t.BlobBytes()
		if err != nil {
			return nil, err
		}
		bank, err := t.Bank()
		if err != nil {
			return nil, err
		}
		srk, err := t.SRKBytes()
		if err != nil {
			return nil, err
		}
		return &unsealRequest{
			blob:       blob,
			srk:        srk,
			primaryAlg: t.PrimaryAlg,
			mask:       t.PCRMask(),
			bank:       bank,
			policyHash: t.PolicyHash,
		}, nil
	}

	if blobPath == "" {
		return nil, pkgerror.New(pkgerror.KindBadArgument, "either --token or --blob must be given")
	}
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot read --blob")
	}

	var srk []byte
	if srkPath != "" {
		srk, err = os.ReadFile(srkPath)
		if err != nil {
			return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot read --srk")
		}
	}

	mask, err := pcrsel.ParseMask(pcrsFlag)
	if err != nil {
		return nil, err
	}

	bank := bankFlag
	if bank == "" {
		bank = "sha256"
	}

	return &unsealRequest{blob: blob, srk: srk, primaryAlg: primaryAlg, mask: mask, bank: bank}, nil
}

// loadPublicKeyFile reads --pubkey as base64-encoded, mu-marshalled
// public-area bytes. This is not the encoding of the LUKS2 token's
// tpm2_pubkey field, which holds a base64-encoded PEM key
// (luks2token.Token.PubkeyPEM).
func loadPublicKeyFile(path string) (*tpm2.Public, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "cannot read --pubkey")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed base64 in --pubkey")
	}
	pub := &tpm2.Public{}
	if _, err := mu.UnmarshalFromBytes(raw, pub); err != nil {
		return nil, pkgerror.Wrap(pkgerror.KindBadArgument, err, "malformed --pubkey")
	}
	return pub, nil
}
