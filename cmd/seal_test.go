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
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("seal", Label("seal", "cmd"), func() {
	var root *cobra.Command
	var dir string

	BeforeEach(func() {
		viper.Reset()
		root = NewRootCmd()
		root.AddCommand(NewSealCmd())

		var err error
		dir, err = os.MkdirTemp("", "tpm2seal-seal-test-")
		Expect(err).ShouldNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("rejects a malformed --pcrs selection before ever touching a TPM", func() {
		_, _, err := executeCommandC(root, "seal", "--pcrs", "not-a-pcr")
		Expect(err).Should(HaveOccurred())
	})

	It("fails cleanly when no TPM device is reachable", func() {
		blobOut := filepath.Join(dir, "sealed.blob")
		_, _, err := executeCommandC(root, "seal",
			"--pcrs", "0+7",
			"--blob-out", blobOut,
			"--export-srk=false",
			"--device", "device:/dev/does-not-exist-tpm2seal-test",
		)
		Expect(err).Should(HaveOccurred())
		_, statErr := os.Stat(blobOut)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})
})
