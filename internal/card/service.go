package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zombor/cardkeeper/internal/scanning"
)

// ErrScan is returned when the OCR backend fails.
var ErrScan = errors.New("scanning card failed")

// ScanResult is the outcome of scanning one card image.
type ScanResult struct {
	// Text is the raw OCR transcript.
	Text string `json:"text"`
	// Draft is pre-filled from Text for the user to adjust before saving.
	Draft Draft `json:"draft"`
	// NoText is set when OCR found nothing on the image.
	NoText bool `json:"noText"`
	// Usage is the OCR call count including this scan.
	Usage int `json:"usage"`
	// QuotaWarning is set once Usage is past the soft ceiling.
	QuotaWarning bool `json:"quotaWarning"`
}

// Service ties OCR, extraction, image storage and the contact store together.
type Service struct {
	store       *Store
	scanner     scanning.Scanner
	storage     Storage
	usage       *UsageCounter
	idGenerator IDGenerator
}

// NewService creates a new Service with the default ID generator
func NewService(store *Store, scanner scanning.Scanner, storage Storage, usage *UsageCounter) *Service {
	return NewServiceWithDeps(store, scanner, storage, usage, &uuidGenerator{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store *Store, scanner scanning.Scanner, storage Storage, usage *UsageCounter, idGen IDGenerator) *Service {
	return &Service{
		store:       store,
		scanner:     scanner,
		storage:     storage,
		usage:       usage,
		idGenerator: idGen,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename keeps phone-generated names short and filesystem safe
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "card"
	}

	return base + ext
}

// Scan runs OCR over a card image and extracts a draft contact. Every call
// counts against the OCR quota. With keepImage the image is stored and its
// key is put on the draft. The image stays in storage even if the draft is
// never saved as a contact.
func (s *Service) Scan(ctx context.Context, filename string, data []byte, contentType string, keepImage bool) (*ScanResult, error) {
	usage, err := s.usage.Increment(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting OCR usage: %w", err)
	}
	quotaWarning := s.usage.Exceeded(usage)
	if quotaWarning {
		slog.Warn("OCR usage past quota", "usage", usage, "quota", s.usage.Quota())
	}

	var imagePath string
	if keepImage {
		name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename))
		imagePath, err = s.storage.Save(ctx, name, data)
		if err != nil {
			return nil, fmt.Errorf("saving card image: %w", err)
		}
	}

	text, err := s.scanner.ScanText(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan card",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if imagePath != "" {
			if delErr := s.storage.Delete(ctx, imagePath); delErr != nil {
				slog.Warn("Failed to remove card image", "path", imagePath, "error", delErr)
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrScan, err)
	}

	extracted := scanning.Extract(text)
	return &ScanResult{
		Text: text,
		Draft: Draft{
			Name:        extracted.Name,
			PhoneNumber: extracted.PhoneNumber,
			Email:       extracted.Email,
			ImagePath:   imagePath,
		},
		NoText:       strings.TrimSpace(text) == "",
		Usage:        usage,
		QuotaWarning: quotaWarning,
	}, nil
}

// Usage returns the OCR call count and the soft ceiling
func (s *Service) Usage(ctx context.Context) (count int, quota int, err error) {
	count, err = s.usage.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return count, s.usage.Quota(), nil
}

// CreateContact stores a new contact
func (s *Service) CreateContact(ctx context.Context, draft Draft) (string, error) {
	if draft.ImagePath != "" {
		if _, err := s.storage.Get(ctx, draft.ImagePath); err != nil {
			return "", fmt.Errorf("%w: unknown image %s: %w", ErrValidation, draft.ImagePath, err)
		}
	}

	id, err := s.store.Create(ctx, draft)
	if err != nil {
		return "", fmt.Errorf("creating contact: %w", err)
	}
	slog.Info("Contact created", "id", id)
	return id, nil
}

// GetContact retrieves a contact by ID
func (s *Service) GetContact(ctx context.Context, id string) (Contact, error) {
	return s.store.Get(ctx, id)
}

// ListContacts returns all contacts, newest first
func (s *Service) ListContacts(ctx context.Context) []Contact {
	return s.store.List(ctx)
}

// SearchContacts filters contacts by name or company
func (s *Service) SearchContacts(ctx context.Context, query string) []Contact {
	return s.store.Search(ctx, query)
}

// ToggleEdit switches a contact in or out of edit mode
func (s *Service) ToggleEdit(ctx context.Context, id string) (Contact, error) {
	c, err := s.store.ToggleEdit(ctx, id)
	if err != nil {
		return Contact{}, fmt.Errorf("toggling edit: %w", err)
	}
	return c, nil
}

// CommitEdit saves edited fields
func (s *Service) CommitEdit(ctx context.Context, id string, draft Draft) (Contact, error) {
	c, err := s.store.CommitEdit(ctx, id, draft)
	if err != nil {
		return Contact{}, fmt.Errorf("saving edit: %w", err)
	}
	return c, nil
}

// ResetAllEditing leaves edit mode on every contact
func (s *Service) ResetAllEditing(ctx context.Context) (int, error) {
	n, err := s.store.ResetAllEditing(ctx)
	if err != nil {
		return 0, fmt.Errorf("resetting edit mode: %w", err)
	}
	return n, nil
}

// DeleteContact removes a contact and its stored image
func (s *Service) DeleteContact(ctx context.Context, id string) error {
	c, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}

	// images shared through older data stay until their last contact goes
	if c.ImagePath != "" && !s.store.ImageInUse(ctx, c.ImagePath) {
		if err := s.storage.Delete(ctx, c.ImagePath); err != nil {
			slog.Warn("Failed to delete card image", "path", c.ImagePath, "error", err)
		}
	}
	slog.Info("Contact deleted", "id", id)
	return nil
}

// GetContactImage returns the stored card photo of a contact
func (s *Service) GetContactImage(ctx context.Context, id string) ([]byte, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ImagePath == "" {
		return nil, fmt.Errorf("%w: no image for %s", ErrNotFound, id)
	}
	data, err := s.storage.Get(ctx, c.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("getting card image: %w", err)
	}
	return data, nil
}

// Export converts a contact for the phone's address book
func (s *Service) Export(ctx context.Context, id string) (AddressBookEntry, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return AddressBookEntry{}, err
	}
	return NewAddressBookEntry(c), nil
}
