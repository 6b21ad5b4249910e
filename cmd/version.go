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

	"github.com/rancher/tpm2seal/internal/version"
)

// NewVersionCmd builds the "version" subcommand; it is attached to a
// root command by the caller rather than to a package-level global, so
// tests can build an isolated root for each case.
func NewVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Args:  cobra.ExactArgs(0),
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.Get()
			commit := v.GitCommit
			if len(commit) > 7 {
				commit = v.GitCommit[:7]
			}
			if cmd.Flag("long").Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%#v", v)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s+g%s", v.Version, commit)
			}

			return nil
		},
	}
	c.Flags().Bool("long", false, "Show long version info")
	return c
}
