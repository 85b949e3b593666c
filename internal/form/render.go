package form

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// helveticaAvgWidth approximates Helvetica glyph width as a fraction of the
// point size, close enough to center short numeric cell values.
const helveticaAvgWidth = 0.5

// Renderer fills the blank DD1750 template with paginated item data. The
// template's first page is duplicated once per output page and text is
// stamped at the absolute coordinates computed by PagePlacements.
type Renderer struct {
	template []byte
	opts     Options
	conf     *model.Configuration
}

// NewRenderer validates the template and normalizes it to its first page
func NewRenderer(template []byte, opts Options) (*Renderer, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCount(bytes.NewReader(template), conf)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("template has no pages")
	}

	var firstPage bytes.Buffer
	if err := api.Trim(bytes.NewReader(template), &firstPage, []string{"1"}, conf); err != nil {
		return nil, fmt.Errorf("normalizing template: %w", err)
	}

	return &Renderer{
		template: firstPage.Bytes(),
		opts:     opts,
		conf:     conf,
	}, nil
}

// Render produces the filled multi-page PDF and its page count. It never
// fails for a well-formed item list; an empty list yields a single page with
// zero rows.
func (r *Renderer) Render(header Header, items []Item) ([]byte, int, error) {
	doc := BuildDocument(header, items)

	base, err := r.basePages(len(doc.Pages))
	if err != nil {
		return nil, 0, err
	}

	wmMap := make(map[int][]*model.Watermark, len(doc.Pages))
	for _, page := range doc.Pages {
		for _, t := range PagePlacements(doc, page, r.opts) {
			wm, err := textWatermark(t)
			if err != nil {
				return nil, 0, err
			}
			wmMap[page.Number] = append(wmMap[page.Number], wm)
		}
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(base), &out, wmMap, r.conf); err != nil {
		return nil, 0, fmt.Errorf("stamping form text: %w", err)
	}

	return out.Bytes(), len(doc.Pages), nil
}

// basePages builds an n-page document by repeating the template page
func (r *Renderer) basePages(n int) ([]byte, error) {
	if n == 1 {
		return r.template, nil
	}

	readers := make([]io.ReadSeeker, n)
	for i := range readers {
		readers[i] = bytes.NewReader(r.template)
	}

	var merged bytes.Buffer
	if err := api.MergeRaw(readers, &merged, false, r.conf); err != nil {
		return nil, fmt.Errorf("assembling %d template pages: %w", n, err)
	}
	return merged.Bytes(), nil
}

// textWatermark turns one placement into a pdfcpu text stamp anchored at the
// page's bottom-left corner, matching the template coordinate system.
func textWatermark(t Text) (*model.Watermark, error) {
	x := t.X
	if t.Centered {
		x -= float64(len(t.Value)) * t.Size * helveticaAvgWidth / 2
	}

	desc := fmt.Sprintf(
		"font:Helvetica, points:%.0f, scale:1 abs, pos:bl, off:%.2f %.2f, fillc:#000000, rot:0",
		t.Size, x, t.Y,
	)
	wm, err := api.TextWatermark(t.Value, desc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("building stamp %q: %w", t.Value, err)
	}
	return wm, nil
}
