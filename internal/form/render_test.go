package form

import (
	"bytes"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// blankTemplatePDF assembles a minimal single-page letter-size PDF to stand
// in for the blank DD1750 template. Offsets are computed while writing so the
// xref table is exact.
func blankTemplatePDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	objects := []string{
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n",
		"2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n",
		"3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n",
	}

	offsets := make([]int, 0, len(objects))
	for _, obj := range objects {
		offsets = append(offsets, buf.Len())
		buf.WriteString(obj)
	}

	xrefOffset := buf.Len()
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n", len(objects)+1))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", off))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset))

	return buf.Bytes()
}

func outputPageCount(pdf []byte) int {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	count, err := api.PageCount(bytes.NewReader(pdf), conf)
	Expect(err).NotTo(HaveOccurred())
	return count
}

var _ = Describe("Renderer", func() {
	var (
		renderer *Renderer
		header   Header
	)

	BeforeEach(func() {
		var err error
		renderer, err = NewRenderer(blankTemplatePDF(), Options{})
		Expect(err).NotTo(HaveOccurred())
		header = Header{PackedBy: "SGT SNUFFY", Date: "2024-06-01"}
	})

	Describe("NewRenderer", func() {
		When("the template is not a PDF", func() {
			It("returns an error", func() {
				_, err := NewRenderer([]byte("not a pdf"), Options{})
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Render", func() {
		When("the item list is empty", func() {
			It("produces a single-page PDF", func() {
				pdf, pages, err := renderer.Render(header, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(pages).To(Equal(1))
				Expect(bytes.HasPrefix(pdf, []byte("%PDF"))).To(BeTrue())
				Expect(outputPageCount(pdf)).To(Equal(1))
			})
		})

		When("items fit on one page", func() {
			It("produces a single page", func() {
				_, pages, err := renderer.Render(header, makeItems(18))
				Expect(err).NotTo(HaveOccurred())
				Expect(pages).To(Equal(1))
			})
		})

		When("items overflow the page capacity", func() {
			It("duplicates the template per page", func() {
				pdf, pages, err := renderer.Render(header, makeItems(40))
				Expect(err).NotTo(HaveOccurred())
				Expect(pages).To(Equal(3))
				Expect(outputPageCount(pdf)).To(Equal(3))
			})
		})

		It("is repeatable for edits and re-downloads", func() {
			_, first, err := renderer.Render(header, makeItems(5))
			Expect(err).NotTo(HaveOccurred())
			_, second, err := renderer.Render(header, makeItems(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})
	})
})
