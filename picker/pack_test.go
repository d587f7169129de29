package picker_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/WIPACrepo/lta-sub001/picker"
)

func TestPicker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "picker packing suite")
}

var _ = Describe("Pack", func() {
	It("rejects a non-positive ideal bundle size", func() {
		_, err := picker.Pack([]picker.FileRef{{UUID: "a", Size: 10}}, 0)
		Expect(err).To(HaveOccurred())
	})

	It("returns no bins for an empty file list", func() {
		bins, err := picker.Pack(nil, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(bins).To(BeEmpty())
	})

	It("produces exactly one bundle when total size is within 1.2x ideal", func() {
		// Scenario A: three files ~310MB total, ideal 1TB.
		files := []picker.FileRef{
			{UUID: "1", Size: 103166718},
			{UUID: "2", Size: 103064762},
			{UUID: "3", Size: 104136149},
		}
		bins, err := picker.Pack(files, 1_000_000_000_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(bins).To(HaveLen(1))
		Expect(bins[0].Files).To(HaveLen(3))
		var total int64
		for _, f := range files {
			total += f.Size
		}
		Expect(bins[0].Size).To(Equal(total))
	})

	It("keeps every bin at or under the 1.2x ideal cap and accounts for every file", func() {
		const ideal = int64(10) * 1024 * 1024 * 1024 // 10 GiB
		var files []picker.FileRef
		for i := 0; i < 900; i++ {
			files = append(files, picker.FileRef{UUID: fmtUUID(i), Size: 101 * 1024 * 1024})
		}
		files = append(files, picker.FileRef{UUID: "small-1", Size: 4096}, picker.FileRef{UUID: "small-2", Size: 8192})

		bins, err := picker.Pack(files, ideal)
		Expect(err).NotTo(HaveOccurred())

		cap := int64(float64(ideal) * 1.2)
		seen := map[string]bool{}
		for _, b := range bins {
			Expect(b.Files).NotTo(BeEmpty())
			Expect(b.Size).To(BeNumerically("<=", cap))
			for _, f := range b.Files {
				Expect(seen[f.UUID]).To(BeFalse(), "file placed in more than one bin")
				seen[f.UUID] = true
			}
		}
		Expect(seen).To(HaveLen(len(files)))
	})

	It("never produces an empty bin even when n_bins would exceed file count", func() {
		// NBins(10, 1) is 10, far more bins than the single file fills.
		files := []picker.FileRef{{UUID: "only", Size: 10}}
		bins, err := picker.Pack(files, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(bins).To(HaveLen(1))
		for _, b := range bins {
			Expect(b.Files).NotTo(BeEmpty())
		}
	})
})

var _ = Describe("NBins", func() {
	It("is monotonic non-decreasing in total size for a fixed ideal", func() {
		ideal := int64(1000)
		prev := picker.NBins(0, ideal)
		for _, t := range []int64{100, 500, 1000, 1500, 2000, 5000, 12000} {
			n := picker.NBins(t, ideal)
			Expect(n).To(BeNumerically(">=", prev))
			prev = n
		}
	})
})

func fmtUUID(i int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for j := 7; j >= 0; j-- {
		b[j] = hex[i&0xf]
		i >>= 4
	}
	return string(b)
}
