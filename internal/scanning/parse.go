package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// rawItem tolerates the field shapes vision models actually emit: numbers as
// strings, stock numbers as bare integers, missing keys.
type rawItem struct {
	Description string          `json:"description"`
	NSN         json.RawMessage `json:"nsn"`
	Qty         json.RawMessage `json:"qty"`
	UnitOfIssue string          `json:"unit_of_issue"`
	Confidence  string          `json:"confidence"`
	Notes       string          `json:"notes"`
}

var (
	fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

	// columnSplit matches pipe separators or runs of two-plus whitespace,
	// the column patterns BOM tables degrade into when the model answers in
	// plain text instead of JSON.
	columnSplit = regexp.MustCompile(`\s*\|\s*|\t+| {2,}`)
	integerOnly = regexp.MustCompile(`^\d+$`)
	niinOnly    = regexp.MustCompile(`^\d{9}$|^\d{4}-\d{2}-\d{3}-\d{4}$`)
)

// parseItems turns a model response into validated items plus warnings.
// Strict structured parsing runs first; if it fails, a bounded repair pass
// tries delimiter recovery, truncation recovery, then line-based column
// splitting. When nothing can be recovered it returns ErrUnparsableResponse.
func parseItems(text string) ([]Item, []string, error) {
	candidate, ok := extractArray(text)
	if !ok {
		items, warnings, err := repairLines(text)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: no JSON array found in response", ErrUnparsableResponse)
		}
		return items, warnings, nil
	}

	var raw []rawItem
	var warnings []string
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		repaired, rerr := repairArray(candidate)
		if rerr != nil {
			items, lineWarnings, lerr := repairLines(text)
			if lerr != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
			}
			lineWarnings = append([]string{"structured output was malformed; items recovered by line heuristics"}, lineWarnings...)
			return items, lineWarnings, nil
		}
		raw = repaired
		// The trailing partial record is gone; the user has to know that.
		warnings = append(warnings, "response was truncated; the last item may be missing, verify against the source document")
	}

	items := make([]Item, 0, len(raw))
	for i, r := range raw {
		item, itemWarnings := validateItem(r, i)
		items = append(items, item)
		warnings = append(warnings, itemWarnings...)
	}
	return items, warnings, nil
}

// extractArray finds the JSON array in the response text. A fenced block
// wins; otherwise the outermost bracket pair is used.
func extractArray(text string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "[") {
			return inner, true
		}
	}

	start := strings.Index(text, "[")
	if start == -1 {
		return "", false
	}
	end := strings.LastIndex(text, "]")
	if end > start {
		return text[start : end+1], true
	}
	// Opening bracket without a closing one: hand the truncated tail to the
	// repair pass.
	return text[start:], true
}

// repairArray recovers a partial structured block, typically output truncated
// mid-object by a token limit. It cuts back to the last complete object and
// closes the array.
func repairArray(candidate string) ([]rawItem, error) {
	last := strings.LastIndex(candidate, "}")
	if last == -1 {
		return nil, fmt.Errorf("no complete object in array")
	}
	patched := candidate[:last+1] + "]"

	var raw []rawItem
	if err := json.Unmarshal([]byte(patched), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// repairLines is the last-resort heuristic: split plain-text lines on a
// recognizable column pattern and keep rows whose trailing column is an
// integer quantity. Everything recovered this way is low confidence.
func repairLines(text string) ([]Item, []string, error) {
	var items []Item
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}

		cols := columnSplit.Split(line, -1)
		fields := cols[:0]
		for _, c := range cols {
			if c = strings.TrimSpace(c); c != "" {
				fields = append(fields, c)
			}
		}
		if len(fields) < 2 {
			continue
		}

		last := fields[len(fields)-1]
		if !integerOnly.MatchString(last) {
			continue
		}
		qty, _ := strconv.Atoi(last)

		var nsn string
		descFields := make([]string, 0, len(fields)-1)
		for _, f := range fields[:len(fields)-1] {
			if nsn == "" && niinOnly.MatchString(f) {
				nsn = f
				continue
			}
			descFields = append(descFields, f)
		}

		items = append(items, Item{
			StockNumber: nsn,
			Description: strings.Join(descFields, " "),
			Quantity:    qty,
			UnitOfIssue: "EA",
			Confidence:  ConfidenceLow,
		})
	}

	if len(items) == 0 {
		return nil, nil, fmt.Errorf("no recognizable item rows")
	}
	warnings := []string{fmt.Sprintf("%d item(s) recovered by line heuristics; verify all fields manually", len(items))}
	return items, warnings, nil
}

// validateItem converts a raw record into an Item, flagging missing required
// fields instead of discarding the record. Losing a real inventory line is
// worse than surfacing an uncertain one.
func validateItem(r rawItem, index int) (Item, []string) {
	item := Item{
		StockNumber: coerceString(r.NSN),
		Description: strings.TrimSpace(r.Description),
		UnitOfIssue: strings.ToUpper(strings.TrimSpace(r.UnitOfIssue)),
		Notes:       strings.TrimSpace(r.Notes),
		Confidence:  ConfidenceHigh,
	}
	if item.UnitOfIssue == "" {
		item.UnitOfIssue = "EA"
	}

	// The model reports its own confidence; anything short of "high" stays
	// low on our side.
	if c := strings.ToLower(strings.TrimSpace(r.Confidence)); c != "" && c != ConfidenceHigh {
		item.Confidence = ConfidenceLow
	}

	var warnings []string
	if item.Description == "" {
		item.Description = "(unreadable item)"
		item.Confidence = ConfidenceLow
		warnings = append(warnings, fmt.Sprintf("item %d: description could not be read", index+1))
	}

	qty, ok := coerceQuantity(r.Qty)
	if !ok || qty < 0 {
		item.Quantity = 1
		item.Confidence = ConfidenceLow
		warnings = append(warnings, fmt.Sprintf("item %d (%s): quantity could not be read, defaulting to 1", index+1, item.Description))
	} else {
		item.Quantity = qty
	}

	return item, warnings
}

// coerceString accepts a JSON string or number and returns it as a trimmed
// string; anything else becomes empty.
func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// coerceQuantity accepts a JSON number or numeric string
func coerceQuantity(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}
