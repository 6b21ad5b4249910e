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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("caps", Label("caps", "cmd"), func() {
	var root *cobra.Command

	BeforeEach(func() {
		viper.Reset()
		root = NewRootCmd()
		root.AddCommand(NewCapsCmd())
	})

	It("fails cleanly when no TPM device is reachable", func() {
		_, _, err := executeCommandC(root, "caps", "--device", "device:/dev/does-not-exist-tpm2seal-test")
		Expect(err).Should(HaveOccurred())
	})
})
