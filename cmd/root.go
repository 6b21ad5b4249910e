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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pkgerror "github.com/rancher/tpm2seal/pkg/error"
)

// NewRootCmd builds the bare tpm2seal root command: global flags only,
// no subcommands attached. Callers add subcommands (seal, unseal, caps,
// version) and call Execute.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tpm2seal",
		Short:         "Seal and unseal secrets against this machine's TPM2",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding tpm2seal.yaml")
	cmd.PersistentFlags().String("logfile", "", "Also write logs to this file")
	cmd.PersistentFlags().Bool("quiet", false, "Do not log to stdout")
	cmd.PersistentFlags().String("device", "", "TPM device spec, e.g. device:/dev/tpmrm0")
	_ = viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("config-dir", cmd.PersistentFlags().Lookup("config-dir"))
	_ = viper.BindPFlag("logfile", cmd.PersistentFlags().Lookup("logfile"))
	_ = viper.BindPFlag("quiet", cmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("device", cmd.PersistentFlags().Lookup("device"))
	return cmd
}

// rootCmd is the base command when tpm2seal is invoked without arguments.
var rootCmd = newFullRootCmd()

func newFullRootCmd() *cobra.Command {
	cmd := NewRootCmd()
	cmd.AddCommand(NewVersionCmd())
	cmd.AddCommand(NewSealCmd())
	cmd.AddCommand(NewUnsealCmd())
	cmd.AddCommand(NewCapsCmd())
	return cmd
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		switch t := err.(type) {
		case *pkgerror.Error:
			os.Exit(t.ExitCode())
		default:
			os.Exit(1)
		}
	}
}
