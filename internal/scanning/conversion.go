package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// bomExtractPrompt is the shared prompt used by all vision providers. It pins
// the output to a single fenced JSON array so the parser has a stable shape
// to work against.
const bomExtractPrompt = `Analyze this Bill of Materials (BOM) / Component Listing / Hand Receipt page and extract all items.

For each item, extract:
1. **Description**: The item name/nomenclature (e.g., "WRENCH, ADJUSTABLE: 12 IN.")
2. **NSN/NIIN**: The National Stock Number if present (9-digit number, sometimes shown as 13-digit with dashes like 5120-00-123-4567)
3. **Quantity**: The authorized quantity (look for "Auth Qty", "OH Qty", or similar column)
4. **Unit of Issue**: The unit of issue abbreviation if shown (e.g., "EA", "BX", "PR")

IMPORTANT:
- Focus on items that are actual components, not section headers like "COEI" or "BII"
- If handwritten annotations show different quantities, note them
- Include ALL items you can read, even if some fields are unclear
- Preserve the top-to-bottom order of the rows on the page
- For NSN, extract just the 9-digit NIIN if the full 13-digit NSN is shown

Return ONLY a single fenced JSON array in this exact format, with no prose before or after it:
` + "```json" + `
[
  {
    "description": "ITEM DESCRIPTION HERE",
    "nsn": "123456789",
    "qty": 2,
    "unit_of_issue": "EA",
    "confidence": "high",
    "notes": "any relevant notes about this item"
  }
]
` + "```" + `

Confidence levels:
- "high": Clearly readable
- "low": Difficult to read or uncertain

If there are no extractable items on this page, return an empty array: []`

// pdfToImages converts every page of a PDF to a PNG image, in page order.
// BOM row order is operationally meaningful, so page order must be preserved.
func pdfToImages(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([][]byte, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG for page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("PDF contains no pages")
	}
	return pages, nil
}

// pdfPageCount reports the number of pages in a PDF document
func pdfPageCount(pdfData []byte) (int, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// imageToPNG converts any image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on iPhones) is not covered by Go's standard image
	// package
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// documentPages normalizes an uploaded document into one PNG per page. PDFs
// are rasterized page by page; single images become a one-page document.
func documentPages(documentData []byte, contentType string) ([][]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	if mimeType == "application/pdf" {
		pages, err := pdfToImages(documentData)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to images: %w", err)
		}
		return pages, nil
	}

	if mimeType != "image/png" || isHEICFormat(documentData) || isHEICMimeType(mimeType) {
		pngData, err := imageToPNG(documentData, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return [][]byte{pngData}, nil
	}

	// Already PNG
	return [][]byte{documentData}, nil
}

// DocumentPageCount reports how many pages a document will be processed as,
// without rasterizing anything beyond what is needed to count.
func DocumentPageCount(documentData []byte, contentType string) (int, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "application/pdf" {
		return pdfPageCount(documentData)
	}
	return 1, nil
}
