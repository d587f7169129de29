package lta_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/WIPACrepo/lta-sub001/lta"
)

func TestLTA(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "lta status machine suite")
}

var _ = Describe("Bundle status machine", func() {
	It("allows the happy-path chain from specified to deleted", func() {
		chain := []lta.BundleStatus{
			lta.BundleSpecified, lta.BundleCreated, lta.BundleTransferring,
			lta.BundleTaping, lta.BundleCompleted, lta.BundleDeleted,
		}
		for i := 1; i < len(chain); i++ {
			Expect(lta.ValidBundleTransition(chain[i-1], chain[i])).To(Succeed())
		}
	})

	It("allows the located -> transferring restore-path entry", func() {
		Expect(lta.ValidBundleTransition(lta.BundleLocated, lta.BundleTransferring)).To(Succeed())
	})

	It("rejects skipping a state", func() {
		Expect(lta.ValidBundleTransition(lta.BundleSpecified, lta.BundleTaping)).NotTo(Succeed())
	})

	It("rejects any transition out of deleted", func() {
		Expect(lta.ValidBundleTransition(lta.BundleDeleted, lta.BundleQuarantined)).NotTo(Succeed())
	})

	It("allows quarantine from any non-terminal state", func() {
		for _, s := range []lta.BundleStatus{lta.BundleSpecified, lta.BundleCreated, lta.BundleTransferring, lta.BundleTaping, lta.BundleCompleted} {
			Expect(lta.ValidBundleTransition(s, lta.BundleQuarantined)).To(Succeed())
		}
	})

	It("allows an operator reset out of quarantined back to original_status", func() {
		Expect(lta.ValidBundleTransition(lta.BundleQuarantined, lta.BundleCreated)).To(Succeed())
	})
})

var _ = Describe("TransferRequest status machine", func() {
	It("allows ethereal -> specified", func() {
		Expect(lta.ValidTransferRequestTransition(lta.TRStatusEthereal, lta.TRStatusSpecified)).To(Succeed())
	})
	It("rejects specified -> ethereal", func() {
		Expect(lta.ValidTransferRequestTransition(lta.TRStatusSpecified, lta.TRStatusEthereal)).NotTo(Succeed())
	})
})
