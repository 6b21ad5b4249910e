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

package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	. "github.com/rancher/tpm2seal/cmd/config"
	"github.com/rancher/tpm2seal/pkg/constants"
)

var _ = Describe("ReadConfig", Label("config"), func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "tpm2seal-config-test-")
		Expect(err).ShouldNot(HaveOccurred())
	})
	AfterEach(func() {
		os.RemoveAll(dir)
		os.Unsetenv("TPM2SEAL_DEVICE")
		os.Unsetenv("TPM2SEAL_DEBUG")
	})

	It("uses engine defaults when no config file exists", func() {
		cfg, err := ReadConfig(dir, nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg.DeviceSpec).To(Equal(""))
		Expect(cfg.RetryUnsealMax).To(Equal(constants.RetryUnsealMax))
		Expect(cfg.Logger).NotTo(BeNil())
	})

	It("reads values from a YAML file under the config dir", func() {
		yaml := "device: device:/dev/tpmrm0\nretry-unseal-max: 7\nbank-preference:\n  - sha1\n"
		Expect(os.WriteFile(filepath.Join(dir, "tpm2seal.yaml"), []byte(yaml), 0644)).To(Succeed())

		cfg, err := ReadConfig(dir, nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg.DeviceSpec).To(Equal("device:/dev/tpmrm0"))
		Expect(cfg.RetryUnsealMax).To(Equal(7))
		Expect(cfg.BankPreference).To(Equal([]string{"sha1"}))
	})

	It("overrides file values with the environment", func() {
		yaml := "device: device:/dev/tpmrm0\n"
		Expect(os.WriteFile(filepath.Join(dir, "tpm2seal.yaml"), []byte(yaml), 0644)).To(Succeed())
		Expect(os.Setenv("TPM2SEAL_DEVICE", "device:/dev/tpmrm1")).To(Succeed())

		cfg, err := ReadConfig(dir, nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg.DeviceSpec).To(Equal("device:/dev/tpmrm1"))
	})

	It("lets bound flags win over file and environment", func() {
		yaml := "device: device:/dev/tpmrm0\n"
		Expect(os.WriteFile(filepath.Join(dir, "tpm2seal.yaml"), []byte(yaml), 0644)).To(Succeed())
		Expect(os.Setenv("TPM2SEAL_DEVICE", "device:/dev/tpmrm1")).To(Succeed())

		flags := pflag.NewFlagSet("testflags", pflag.ContinueOnError)
		flags.String("device", "", "testing flag")
		Expect(flags.Set("device", "device:/dev/tpmrmflag")).To(Succeed())

		cfg, err := ReadConfig(dir, flags)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg.DeviceSpec).To(Equal("device:/dev/tpmrmflag"))
	})

	It("sets debug log level from the debug flag", func() {
		flags := pflag.NewFlagSet("testflags", pflag.ContinueOnError)
		flags.Bool("debug", false, "testing flag")
		Expect(flags.Set("debug", "true")).To(Succeed())

		cfg, err := ReadConfig(dir, flags)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cfg.Logger.GetLevel().String()).To(Equal("debug"))
	})

	It("does not error when the config dir holds no file at all", func() {
		viper.Reset()
		_, err := ReadConfig(filepath.Join(dir, "does-not-exist"), nil)
		Expect(err).ShouldNot(HaveOccurred())
	})
})
