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
	"encoding/base64"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/tpm2seal/pkg/luks2token"
)

var _ = Describe("resolveUnsealRequest", Label("unseal", "cmd"), func() {
	It("requires either --token or --blob", func() {
		_, err := resolveUnsealRequest("", "", "", "", "", "")
		Expect(err).Should(HaveOccurred())
	})

	It("reads blob, SRK and PCR selection directly from flags", func() {
		dir, err := os.MkdirTemp("", "tpm2seal-unseal-test-")
		Expect(err).ShouldNot(HaveOccurred())
		defer os.RemoveAll(dir)

		blobPath := filepath.Join(dir, "sealed.blob")
		Expect(os.WriteFile(blobPath, []byte("blobdata"), 0600)).To(Succeed())
		srkPath := filepath.Join(dir, "sealed.srk")
		Expect(os.WriteFile(srkPath, []byte("srkdata"), 0600)).To(Succeed())

		req, err := resolveUnsealRequest("", blobPath, srkPath, "ecc", "0+7", "sha1")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(req.blob).To(Equal([]byte("blobdata")))
		Expect(req.srk).To(Equal([]byte("srkdata")))
		Expect(req.primaryAlg).To(Equal("ecc"))
		Expect(req.bank).To(Equal("sha1"))
		Expect(req.mask).To(Equal(uint32(1<<0 | 1<<7)))
	})

	It("defaults to sha256 when no bank flag is given", func() {
		dir, err := os.MkdirTemp("", "tpm2seal-unseal-test-")
		Expect(err).ShouldNot(HaveOccurred())
		defer os.RemoveAll(dir)

		blobPath := filepath.Join(dir, "sealed.blob")
		Expect(os.WriteFile(blobPath, []byte("x"), 0600)).To(Succeed())

		req, err := resolveUnsealRequest("", blobPath, "", "", "", "")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(req.bank).To(Equal("sha256"))
	})

	It("reads everything from a LUKS2 token document when --token is set", func() {
		dir, err := os.MkdirTemp("", "tpm2seal-unseal-test-")
		Expect(err).ShouldNot(HaveOccurred())
		defer os.RemoveAll(dir)

		token := &luks2token.Token{
			Blob:       base64.StdEncoding.EncodeToString([]byte("blobdata")),
			PCRs:       []int{0, 7},
			PolicyHash: "deadbeef",
			PCRBank:    "sha1",
			PrimaryAlg: "rsa",
			SRK:        base64.StdEncoding.EncodeToString([]byte("srkdata")),
		}
		encoded, err := luks2token.Encode(token)
		Expect(err).ShouldNot(HaveOccurred())

		tokenPath := filepath.Join(dir, "token.json")
		Expect(os.WriteFile(tokenPath, encoded, 0600)).To(Succeed())

		req, err := resolveUnsealRequest(tokenPath, "", "", "", "", "")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(req.blob).To(Equal([]byte("blobdata")))
		Expect(req.srk).To(Equal([]byte("srkdata")))
		Expect(req.primaryAlg).To(Equal("rsa"))
		Expect(req.bank).To(Equal("sha1"))
		Expect(req.mask).To(Equal(uint32(1<<0 | 1<<7)))
		Expect(req.policyHash).To(Equal("deadbeef"))
	})
})

var _ = Describe("loadPublicKeyFile", Label("unseal", "cmd"), func() {
	It("rejects a file that is not valid base64", func() {
		dir, err := os.MkdirTemp("", "tpm2seal-unseal-test-")
		Expect(err).ShouldNot(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "pubkey")
		Expect(os.WriteFile(path, []byte("not base64!!"), 0600)).To(Succeed())

		_, err = loadPublicKeyFile(path)
		Expect(err).Should(HaveOccurred())
	})
})
