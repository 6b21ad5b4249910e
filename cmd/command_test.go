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
	"io"
	"os"

	"github.com/spf13/cobra"
)

// executeCommandC runs cmd with args and captures whatever it writes to
// stdout, restoring the real stdout before returning even on error.
func executeCommandC(cmd *cobra.Command, args ...string) (c *cobra.Command, output string, err error) {
	cmd.SetArgs(args)

	oldStdout := os.Stdout
	r, w, pipeErr := os.Pipe()
	if pipeErr != nil {
		return nil, "", pipeErr
	}
	os.Stdout = w

	c, err = cmd.ExecuteC()
	if err != nil {
		os.Stdout = oldStdout
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		os.Stdout = oldStdout
		return nil, "", err
	}

	out, _ := io.ReadAll(r)
	os.Stdout = oldStdout

	return c, string(out), nil
}
