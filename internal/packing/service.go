package packing

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kwalsh/dd1750-assistant/internal/form"
	"github.com/kwalsh/dd1750-assistant/internal/ledger"
	"github.com/kwalsh/dd1750-assistant/internal/scanning"
)

// ErrNoDocument is returned when a workflow step needs an uploaded document
// and none is staged for the identity.
var ErrNoDocument = errors.New("no document uploaded")

// Renderer produces the filled packing list for an item list
type Renderer interface {
	Render(header form.Header, items []form.Item) ([]byte, int, error)
}

// IDGenerator generates unique IDs for uploads
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload describes a staged source document awaiting extraction
type Upload struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Pages       int    `json:"pages"`

	storedPath string
}

// Status summarizes an identity's credit position
type Status struct {
	FreeRemaining int `json:"free_remaining"`
	PaidBalance   int `json:"paid_balance"`
	Remaining     int `json:"remaining"`
}

// Service orchestrates the workflow: credit checks, extraction, document
// generation. Identity is always an explicit parameter; the service holds no
// ambient request state.
type Service struct {
	ledger      *ledger.Ledger
	scanner     scanning.Scanner
	renderer    Renderer
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	uploads map[string]*Upload // identity -> staged source document
	outputs map[string]string  // identity -> generated output path
}

// NewService creates a new Service with default ID generator and time source
func NewService(l *ledger.Ledger, scanner scanning.Scanner, renderer Renderer, storage Storage) *Service {
	return NewServiceWithDeps(l, scanner, renderer, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(l *ledger.Ledger, scanner scanning.Scanner, renderer Renderer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		ledger:      l,
		scanner:     scanner,
		renderer:    renderer,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		uploads:     make(map[string]*Upload),
		outputs:     make(map[string]string),
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	// Phone-generated filenames can get absurdly long
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "document"
	}

	return base + ext
}

// UploadDocument stages a BOM document for identity and reports how many
// pages extraction will process. Uploading replaces any previously staged
// document; it costs nothing.
func (s *Service) UploadDocument(identity, filename string, data []byte, contentType string) (*Upload, error) {
	pages, err := scanning.DocumentPageCount(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("inspecting document: %w", err)
	}

	id := s.idGenerator.Generate()
	cleanFilename := sanitizeFilename(filename)

	savedPath, err := s.storage.Save(fmt.Sprintf("%s/%s_%s", uploadDir, id, cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}

	upload := &Upload{
		ID:          id,
		Filename:    cleanFilename,
		ContentType: contentType,
		Pages:       pages,
		storedPath:  savedPath,
	}

	s.mu.Lock()
	previous := s.uploads[identity]
	s.uploads[identity] = upload
	s.mu.Unlock()

	if previous != nil {
		if err := s.storage.Delete(previous.storedPath); err != nil {
			slog.Warn("Failed to delete replaced upload", "path", previous.storedPath, "error", err)
		}
	}

	return upload, nil
}

// Extract runs the staged document through the vision scanner. The credit is
// consumed only after the scan returns usable content, so a failed or
// timed-out call never costs the user anything.
func (s *Service) Extract(identity string) (*scanning.Result, int, error) {
	s.mu.Lock()
	upload := s.uploads[identity]
	s.mu.Unlock()
	if upload == nil {
		return nil, 0, ErrNoDocument
	}

	free, paid, err := s.ledger.Balance(identity)
	if err != nil {
		return nil, 0, fmt.Errorf("checking balance: %w", err)
	}
	if free+paid == 0 {
		return nil, 0, ledger.ErrInsufficientCredit
	}

	data, err := s.storage.Get(upload.storedPath)
	if err != nil {
		return nil, 0, fmt.Errorf("reading staged document: %w", err)
	}

	result, err := s.scanner.ScanBOM(data, upload.ContentType)
	if err != nil {
		slog.Error("Failed to scan document",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, 0, fmt.Errorf("scanning document: %w", err)
	}

	consume, err := s.ledger.TryConsume(identity)
	if err != nil {
		return nil, 0, fmt.Errorf("consuming credit: %w", err)
	}
	if !consume.Allowed {
		// Lost a race for the last credit between the balance check and now
		return nil, 0, ledger.ErrInsufficientCredit
	}

	remaining, err := s.remaining(identity)
	if err != nil {
		return nil, 0, err
	}
	return result, remaining, nil
}

// toFormItems maps extracted (and possibly user-edited) items onto form rows,
// assigning line numbers in order.
func toFormItems(items []scanning.Item) []form.Item {
	formItems := make([]form.Item, 0, len(items))
	for i, item := range items {
		uoi := strings.ToUpper(strings.TrimSpace(item.UnitOfIssue))
		if uoi == "" {
			uoi = "EA"
		}
		formItems = append(formItems, form.Item{
			LineNo:      i + 1,
			Description: item.Description,
			StockNumber: item.StockNumber,
			UnitOfIssue: uoi,
			InitialQty:  item.Quantity,
			SparesQty:   0,
			TotalQty:    item.Quantity,
		})
	}
	return formItems
}

// Generate renders the packing list for identity and retains the output so
// it can be re-downloaded. Generation never touches the ledger; edits and
// re-downloads are free.
func (s *Service) Generate(identity string, header form.Header, items []scanning.Item) ([]byte, int, error) {
	if header.Date == "" {
		header.Date = s.timeSource.Now().Format("2006-01-02")
	}

	pdf, pages, err := s.renderer.Render(header, toFormItems(items))
	if err != nil {
		return nil, 0, fmt.Errorf("rendering packing list: %w", err)
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s/%s_dd1750.pdf", outputDir, s.idGenerator.Generate()), pdf)
	if err != nil {
		return nil, 0, fmt.Errorf("saving generated document: %w", err)
	}

	s.mu.Lock()
	previous := s.outputs[identity]
	s.outputs[identity] = savedPath
	s.mu.Unlock()

	if previous != "" {
		if err := s.storage.Delete(previous); err != nil {
			slog.Warn("Failed to delete replaced output", "path", previous, "error", err)
		}
	}

	return pdf, pages, nil
}

// Download returns the last generated packing list for identity along with a
// dated suggested filename.
func (s *Service) Download(identity string) ([]byte, string, error) {
	s.mu.Lock()
	path := s.outputs[identity]
	s.mu.Unlock()
	if path == "" {
		return nil, "", ErrNoDocument
	}

	data, err := s.storage.Get(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading generated document: %w", err)
	}

	filename := fmt.Sprintf("DD1750_%s.pdf", s.timeSource.Now().Format("20060102_150405"))
	return data, filename, nil
}

// Redeem cashes an access code into identity's paid balance
func (s *Service) Redeem(identity, code string) (granted, remaining int, err error) {
	granted, err = s.ledger.Redeem(identity, code)
	if err != nil {
		return 0, 0, err
	}
	remaining, err = s.remaining(identity)
	if err != nil {
		return 0, 0, err
	}
	return granted, remaining, nil
}

// GenerateAccessCodes mints count codes worth creditsPerCode each
func (s *Service) GenerateAccessCodes(count, creditsPerCode int) ([]ledger.AccessCode, error) {
	return s.ledger.GenerateCodes(count, creditsPerCode)
}

// ListAccessCodes returns all known codes for admin review
func (s *Service) ListAccessCodes() ([]ledger.AccessCode, error) {
	return s.ledger.ListCodes()
}

// Status reports identity's credit position
func (s *Service) Status(identity string) (Status, error) {
	free, paid, err := s.ledger.Balance(identity)
	if err != nil {
		return Status{}, err
	}
	return Status{
		FreeRemaining: free,
		PaidBalance:   paid,
		Remaining:     free + paid,
	}, nil
}

// ClearSession drops identity's staged upload and generated output. Credits
// are untouched.
func (s *Service) ClearSession(identity string) {
	s.mu.Lock()
	upload := s.uploads[identity]
	output := s.outputs[identity]
	delete(s.uploads, identity)
	delete(s.outputs, identity)
	s.mu.Unlock()

	if upload != nil {
		if err := s.storage.Delete(upload.storedPath); err != nil {
			slog.Warn("Failed to delete upload", "path", upload.storedPath, "error", err)
		}
	}
	if output != "" {
		if err := s.storage.Delete(output); err != nil {
			slog.Warn("Failed to delete output", "path", output, "error", err)
		}
	}
}

// remaining sums identity's usable credit
func (s *Service) remaining(identity string) (int, error) {
	free, paid, err := s.ledger.Balance(identity)
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return free + paid, nil
}
