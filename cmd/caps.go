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
	"fmt"

	"github.com/spf13/cobra"
)

// NewCapsCmd builds the "caps" subcommand: open the TPM and print the
// stable support-flag summary (Firmware, Driver, Subsystem, System,
// Libraries) this process observed, without performing any seal/unseal
// operation.
func NewCapsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "caps",
		Short: "Print the TPM capability/support-flag summary",
		Args:  cobra.ExactArgs(0),
		RunE:  runCaps,
	}
	return c
}

func runCaps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, err := openTransport(cfg, "")
	if err != nil {
		return err
	}
	defer ctx.Close()

	fmt.Fprintln(cmd.OutOrStdout(), ctx.Capabilities().String())
	return nil
}
