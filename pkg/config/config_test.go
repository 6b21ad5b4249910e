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
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/tpm2seal/pkg/config"
	"github.com/rancher/tpm2seal/pkg/constants"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config suite")
}

var _ = Describe("Config", Label("config"), func() {
	It("carries engine defaults with no options", func() {
		cfg := config.NewConfig()
		Expect(cfg.DeviceSpec).To(Equal(""))
		Expect(cfg.RetryUnsealMax).To(Equal(constants.RetryUnsealMax))
		Expect(cfg.BankPreference).To(Equal([]string{"sha256", "sha1"}))
		Expect(cfg.EntropyFlagFile).To(Equal(constants.EntropyCreditFlagFile))
		Expect(cfg.CreditEntropy).To(BeFalse())
		Expect(cfg.Logger).NotTo(BeNil())
	})

	It("applies options in order", func() {
		cfg := config.NewConfig(
			config.WithDeviceSpec("device:/dev/tpmrm1"),
			config.WithRetryUnsealMax(5),
			config.WithBankPreference([]string{"sha1"}),
			config.WithCreditEntropy(true),
			config.WithLegacyPolicySessionSignature(true),
		)
		Expect(cfg.DeviceSpec).To(Equal("device:/dev/tpmrm1"))
		Expect(cfg.RetryUnsealMax).To(Equal(5))
		Expect(cfg.BankPreference).To(Equal([]string{"sha1"}))
		Expect(cfg.CreditEntropy).To(BeTrue())
		Expect(cfg.LegacyPolicySessionSignature).To(BeTrue())
	})
})
