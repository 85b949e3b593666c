package form

import "fmt"

// RowsPerPage is the printable item-row capacity of one DD1750 page.
const RowsPerPage = 18

// DD1750 template geometry, in PDF points from the bottom-left corner of a
// 612x792 letter page.
const (
	PageWidth  = 612.0
	PageHeight = 792.0

	boxColLeft, boxColRight         = 44.0, 88.0
	contentColLeft, contentColRight = 88.0, 365.0
	uoiColLeft, uoiColRight         = 365.0, 408.5
	initColLeft, initColRight       = 408.5, 453.5
	sparesColLeft, sparesColRight   = 453.5, 514.5
	totalColLeft, totalColRight     = 514.5, 566.0

	tableTopLine    = 616.0
	tableBottomLine = 89.5
	rowHeight       = (tableTopLine - tableBottomLine) / RowsPerPage
	padX            = 3.0

	headerRow1Y = 735.0
	headerRow2Y = 710.0
	headerRow3Y = 685.0
	pageNumY    = 660.0

	packedByX  = 95.0
	numBoxesX  = 240.0
	reqNoX     = 370.0
	orderNoX   = 370.0
	endItemX   = 95.0
	dateX      = 500.0
	pageNumX   = 500.0
	pageTotalX = 545.0

	certifierY      = 55.0
	certifierNameX  = 95.0
	certifierTitleX = 280.0
)

// Header holds the free-text form header fields. All fields are optional;
// empty ones are simply not drawn.
type Header struct {
	PackedBy       string `json:"packed_by"`
	NumBoxes       string `json:"no_boxes"`
	RequisitionNo  string `json:"requisition_no"`
	OrderNo        string `json:"order_no"`
	EndItem        string `json:"end_item"`
	Date           string `json:"date"`
	CertifierName  string `json:"certifier_name"`
	CertifierTitle string `json:"certifier_title"`
}

// Item is a single form row
type Item struct {
	LineNo      int    `json:"line_no"`
	Description string `json:"description"`
	StockNumber string `json:"nsn"`
	UnitOfIssue string `json:"unit_of_issue"`
	InitialQty  int    `json:"initial_qty"`
	SparesQty   int    `json:"spares_qty"`
	TotalQty    int    `json:"total_qty"`
}

// Page holds at most RowsPerPage items plus its position in the document.
// Every page after the first is a continuation.
type Page struct {
	Number       int
	Total        int
	Continuation bool
	Items        []Item
}

// Document is a fully paginated packing list. Concatenating the pages' item
// slices, in order, reproduces the input item list exactly.
type Document struct {
	Header        Header
	Pages         []Page
	TotalQuantity int
}

// Options control layout policy that varies between form users.
type Options struct {
	// RepeatHeaderOnContinuation draws the header fields on every page
	// instead of page 1 only. Page numbers are always drawn.
	RepeatHeaderOnContinuation bool
}

// Text is one string placed at an absolute position on a page. X is the left
// edge, or the column center when Centered is set.
type Text struct {
	X        float64
	Y        float64
	Size     float64
	Value    string
	Centered bool
}

// PageCount reports how many pages itemCount items occupy (minimum one).
func PageCount(itemCount int) int {
	if itemCount == 0 {
		return 1
	}
	return (itemCount + RowsPerPage - 1) / RowsPerPage
}

// Paginate assigns items to pages strictly in input order, filling each page
// to capacity before starting the next. It never fails; an empty item list
// yields a single page with zero rows.
func Paginate(items []Item) []Page {
	total := PageCount(len(items))
	pages := make([]Page, 0, total)
	for n := 1; n <= total; n++ {
		start := (n - 1) * RowsPerPage
		end := start + RowsPerPage
		if end > len(items) {
			end = len(items)
		}
		pages = append(pages, Page{
			Number:       n,
			Total:        total,
			Continuation: n > 1,
			Items:        items[start:end],
		})
	}
	return pages
}

// BuildDocument paginates items under header. The grand total is computed
// once across the whole list; it belongs on the final page's summary row
// only, so partially rendered pages never read like final counts.
func BuildDocument(header Header, items []Item) Document {
	totalQty := 0
	for _, item := range items {
		totalQty += item.TotalQty
	}
	return Document{
		Header:        header,
		Pages:         Paginate(items),
		TotalQuantity: totalQty,
	}
}

// rowBaseline returns the text baseline Y for row index i (0-based) within a
// page. The mapping is pure: the same row index always yields the same
// coordinate.
func rowBaseline(i int) float64 {
	rowTop := tableTopLine - 5.0 - float64(i)*rowHeight
	return rowTop - 7.0
}

// rowSecondLine is the baseline for a row's second text line (stock number)
func rowSecondLine(i int) float64 {
	rowTop := tableTopLine - 5.0 - float64(i)*rowHeight
	return rowTop - 17.0
}

// summaryBaseline is the Y position of the grand-total summary row on the
// final page: the row after the last item, or just below the table when the
// final page is full.
func summaryBaseline(itemsOnPage int) float64 {
	if itemsOnPage < RowsPerPage {
		return rowBaseline(itemsOnPage)
	}
	return tableBottomLine - 12.0
}

// center returns the midpoint of a column
func center(left, right float64) float64 {
	return (left + right) / 2
}

// truncate clips s to max characters so long nomenclature stays inside its
// column.
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// PagePlacements maps one page of doc to absolute text placements. The
// function is pure so tests can assert exact positions.
func PagePlacements(doc Document, page Page, opts Options) []Text {
	var texts []Text

	drawHeader := !page.Continuation || opts.RepeatHeaderOnContinuation
	if drawHeader {
		h := doc.Header
		if h.PackedBy != "" {
			texts = append(texts, Text{X: packedByX, Y: headerRow1Y, Size: 10, Value: h.PackedBy})
		}
		if h.NumBoxes != "" {
			texts = append(texts, Text{X: numBoxesX, Y: headerRow1Y, Size: 10, Value: h.NumBoxes})
		}
		if h.RequisitionNo != "" {
			texts = append(texts, Text{X: reqNoX, Y: headerRow1Y, Size: 10, Value: h.RequisitionNo})
		}
		if h.OrderNo != "" {
			texts = append(texts, Text{X: orderNoX, Y: headerRow2Y, Size: 10, Value: h.OrderNo})
		}
		if h.EndItem != "" {
			texts = append(texts, Text{X: endItemX, Y: headerRow3Y, Size: 8, Value: truncate(h.EndItem, 60)})
		}
		if h.Date != "" {
			texts = append(texts, Text{X: dateX, Y: headerRow3Y, Size: 10, Value: h.Date})
		}
		if h.CertifierName != "" {
			texts = append(texts, Text{X: certifierNameX, Y: certifierY, Size: 9, Value: h.CertifierName})
		}
		if h.CertifierTitle != "" {
			texts = append(texts, Text{X: certifierTitleX, Y: certifierY, Size: 9, Value: h.CertifierTitle})
		}
	}

	// Page numbers appear on every page regardless of header policy
	texts = append(texts,
		Text{X: pageNumX, Y: pageNumY, Size: 10, Value: fmt.Sprintf("%d", page.Number)},
		Text{X: pageTotalX, Y: pageNumY, Size: 10, Value: fmt.Sprintf("%d", page.Total)},
	)

	for i, item := range page.Items {
		y := rowBaseline(i)

		texts = append(texts,
			Text{X: center(boxColLeft, boxColRight), Y: y, Size: 8, Value: fmt.Sprintf("%d", item.LineNo), Centered: true},
			Text{X: contentColLeft + padX, Y: y, Size: 7, Value: truncate(item.Description, 50)},
		)
		if item.StockNumber != "" {
			texts = append(texts, Text{X: contentColLeft + padX, Y: rowSecondLine(i), Size: 6, Value: "NSN: " + item.StockNumber})
		}
		texts = append(texts,
			Text{X: center(uoiColLeft, uoiColRight), Y: y, Size: 8, Value: item.UnitOfIssue, Centered: true},
			Text{X: center(initColLeft, initColRight), Y: y, Size: 8, Value: fmt.Sprintf("%d", item.InitialQty), Centered: true},
			Text{X: center(sparesColLeft, sparesColRight), Y: y, Size: 8, Value: fmt.Sprintf("%d", item.SparesQty), Centered: true},
			Text{X: center(totalColLeft, totalColRight), Y: y, Size: 8, Value: fmt.Sprintf("%d", item.TotalQty), Centered: true},
		)
	}

	// Grand total on the final page only; a blank form carries no total
	if page.Number == page.Total && len(page.Items) > 0 {
		y := summaryBaseline(len(page.Items))
		texts = append(texts,
			Text{X: center(sparesColLeft, sparesColRight), Y: y, Size: 8, Value: "TOTAL", Centered: true},
			Text{X: center(totalColLeft, totalColRight), Y: y, Size: 8, Value: fmt.Sprintf("%d", doc.TotalQuantity), Centered: true},
		)
	}

	return texts
}
