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

// Package config is the engine's runtime configuration: the device spec
// to open, the retry/bank-preference knobs the seal/unseal pipeline
// reads, and the logger every layer threads through. cmd/config
// builds one of these from flags, a YAML file, and the environment;
// library callers can build one directly with NewConfig and the With*
// options, the same pattern the teacher's own config layer uses.
package config

import (
	"github.com/sirupsen/logrus"

	"github.com/rancher/tpm2seal/pkg/constants"
)

// Config is the sealing engine's runtime configuration.
type Config struct {
	Logger *logrus.Logger

	// DeviceSpec is passed to transport.Open; empty defers to
	// SYSTEMD_TPM2_DEVICE / constants.DefaultDeviceSpec.
	DeviceSpec string

	// RetryUnsealMax carries the configured unseal retry bound. The
	// unseal PCR-race retry loop in internal/seal does not read it: that
	// loop is bounded by constants.RetryUnsealMax.
	RetryUnsealMax int

	// BankPreference orders automatic bank selection; the first entry
	// that qualifies (§4.B's usable/good heuristic) wins.
	BankPreference []string

	// EntropyFlagFile carries the configured path of the file that marks
	// TPM-sourced entropy as already credited to the kernel pool this
	// boot. The entropy-credit step in internal/seal does not read it: it
	// always uses constants.EntropyCreditFlagFile.
	EntropyFlagFile string

	// CreditEntropy enables sealing's optional TPM-entropy credit step.
	CreditEntropy bool

	// LegacyPolicySessionSignature forces the older of the two historical
	// policy-session start signatures (§9 Open Question), for reading
	// blobs sealed before the newer form became the default.
	LegacyPolicySessionSignature bool
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithDeviceSpec overrides the TPM device spec.
func WithDeviceSpec(spec string) Option {
	return func(c *Config) { c.DeviceSpec = spec }
}

// WithRetryUnsealMax overrides the unseal retry bound.
func WithRetryUnsealMax(n int) Option {
	return func(c *Config) { c.RetryUnsealMax = n }
}

// WithBankPreference overrides the automatic bank selection order.
func WithBankPreference(banks []string) Option {
	return func(c *Config) { c.BankPreference = banks }
}

// WithEntropyFlagFile overrides the entropy-credit flag file path.
func WithEntropyFlagFile(path string) Option {
	return func(c *Config) { c.EntropyFlagFile = path }
}

// WithCreditEntropy toggles the entropy-credit step.
func WithCreditEntropy(enabled bool) Option {
	return func(c *Config) { c.CreditEntropy = enabled }
}

// WithLegacyPolicySessionSignature toggles the legacy policy-session
// start signature.
func WithLegacyPolicySessionSignature(legacy bool) Option {
	return func(c *Config) { c.LegacyPolicySessionSignature = legacy }
}

// defaultLogger matches the teacher's own text formatter: full
// timestamps, forced colors so piping to a file still reads cleanly.
func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:      true,
		DisableColors:    false,
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	return l
}

// NewConfig builds a Config with the engine's defaults, then applies
// opts in order.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Logger:          defaultLogger(),
		DeviceSpec:      "",
		RetryUnsealMax:  constants.RetryUnsealMax,
		BankPreference:  []string{"sha256", "sha1"},
		EntropyFlagFile: constants.EntropyCreditFlagFile,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}
