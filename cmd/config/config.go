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

// Package config is the CLI's boundary with pkg/config: it layers a YAML
// file under configDir over environment variables prefixed TPM2SEAL_ over
// cobra persistent flags, the same three-tier precedence the teacher's
// own cmd/config.ReadConfigRun builds with viper.
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	pkgconfig "github.com/rancher/tpm2seal/pkg/config"
)

// fileConfig mirrors the YAML/env-settable fields of pkg/config.Config;
// kept distinct from it so viper's decode hooks never touch the logger
// or any field that isn't meant to be externally configurable.
type fileConfig struct {
	DeviceSpec                   string   `mapstructure:"device"`
	RetryUnsealMax               int      `mapstructure:"retry-unseal-max"`
	BankPreference               []string `mapstructure:"bank-preference"`
	EntropyFlagFile              string   `mapstructure:"entropy-flag-file"`
	CreditEntropy                bool     `mapstructure:"credit-entropy"`
	LegacyPolicySessionSignature bool     `mapstructure:"legacy-policy-session"`
}

// ReadConfig builds a pkg/config.Config from, in increasing precedence:
// the engine's own defaults, a "tpm2seal.yaml" found under configDir, the
// TPM2SEAL_-prefixed environment, and flags already bound to the cobra
// command via BindPFlag.
func ReadConfig(configDir string, flags *pflag.FlagSet) (*pkgconfig.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TPM2SEAL")
	v.AutomaticEnv()

	if configDir != "" {
		v.AddConfigPath(configDir)
		v.SetConfigName("tpm2seal")
		v.SetConfigType("yaml")
		// A missing config file is not an error: defaults and
		// environment/flags still apply.
		_ = v.ReadInConfig()
	}

	if flags != nil {
		_ = v.BindPFlags(flags)
	}

	fc := fileConfig{
		DeviceSpec:      v.GetString("device"),
		RetryUnsealMax:  v.GetInt("retry-unseal-max"),
		BankPreference:  v.GetStringSlice("bank-preference"),
		EntropyFlagFile: v.GetString("entropy-flag-file"),
		CreditEntropy:   v.GetBool("credit-entropy"),
	}
	if err := v.Unmarshal(&fc, viper.DecodeHook(mapstructure.StringToSliceHookFunc(","))); err != nil {
		return nil, err
	}

	opts := []pkgconfig.Option{WithLogging(v)}
	if fc.DeviceSpec != "" {
		opts = append(opts, pkgconfig.WithDeviceSpec(fc.DeviceSpec))
	}
	if fc.RetryUnsealMax > 0 {
		opts = append(opts, pkgconfig.WithRetryUnsealMax(fc.RetryUnsealMax))
	}
	if len(fc.BankPreference) > 0 {
		opts = append(opts, pkgconfig.WithBankPreference(fc.BankPreference))
	}
	if fc.EntropyFlagFile != "" {
		opts = append(opts, pkgconfig.WithEntropyFlagFile(fc.EntropyFlagFile))
	}
	opts = append(opts,
		pkgconfig.WithCreditEntropy(fc.CreditEntropy),
		pkgconfig.WithLegacyPolicySessionSignature(fc.LegacyPolicySessionSignature),
	)

	return pkgconfig.NewConfig(opts...), nil
}

// WithLogging builds the pkg/config.Option that wires debug level,
// logfile, and quiet mode the way the teacher's ReadConfigRun does:
// stdout by default, both stdout and the logfile when one is set and
// not quiet, only the logfile when quiet.
func WithLogging(v *viper.Viper) pkgconfig.Option {
	return func(cfg *pkgconfig.Config) {
		logger := logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:      true,
			DisableTimestamp: false,
			FullTimestamp:    true,
		})
		if v.GetBool("debug") {
			logger.SetLevel(logrus.DebugLevel)
		}

		quiet := v.GetBool("quiet")
		logfile := v.GetString("logfile")

		var out io.Writer = os.Stdout
		if logfile != "" {
			if err := os.MkdirAll(filepath.Dir(logfile), 0755); err == nil {
				f, err := os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err != nil {
					logger.Errorf("could not open %s for logging to file: %s", logfile, err)
				} else if quiet {
					out = f
				} else {
					out = io.MultiWriter(os.Stdout, f)
				}
			}
		} else if quiet {
			out = io.Discard
		}
		logger.SetOutput(out)

		cfg.Logger = logger
	}
}
