package card

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// contactsKey holds the whole collection as a JSON object keyed by id.
const contactsKey = "contacts"

// DefaultPersistTimeout bounds every read and write against the KV layer.
const DefaultPersistTimeout = 5 * time.Second

// IDGenerator generates unique IDs for contacts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator hands out time-ordered UUIDv7 ids, unique across goroutines.
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Store keeps the contact collection in memory and writes the whole
// collection through to a KV after every change. A change becomes visible
// only once it has been written; a failed write leaves the collection as it
// was. All operations are serialised by a single lock.
type Store struct {
	kv          KV
	idGenerator IDGenerator
	timeSource  TimeSource
	timeout     time.Duration

	mu       sync.RWMutex
	contacts map[string]Contact
}

// NewStore creates an empty Store over kv. Call Load to restore saved contacts.
func NewStore(kv KV) *Store {
	return NewStoreWithDeps(kv, &uuidGenerator{}, &defaultTimeSource{}, DefaultPersistTimeout)
}

// NewStoreWithDeps creates a Store with custom dependencies. Nil
// dependencies and a zero timeout fall back to the defaults.
func NewStoreWithDeps(kv KV, idGen IDGenerator, timeSrc TimeSource, timeout time.Duration) *Store {
	if idGen == nil {
		idGen = &uuidGenerator{}
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Store{
		kv:          kv,
		idGenerator: idGen,
		timeSource:  timeSrc,
		timeout:     timeout,
		contacts:    make(map[string]Contact),
	}
}

// Load replaces the in-memory collection with the stored one. Nothing stored
// yet means an empty collection. On failure the store is left empty and the
// error wraps ErrPersistence.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts = make(map[string]Contact)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, ok, err := s.kv.Get(ctx, contactsKey)
	if err != nil {
		return fmt.Errorf("%w: loading contacts: %w", ErrPersistence, err)
	}
	if !ok {
		return nil
	}

	var contacts map[string]Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return fmt.Errorf("%w: decoding contacts: %w", ErrPersistence, err)
	}
	for id, c := range contacts {
		// older data may not repeat the key inside the record
		c.ID = id
		s.contacts[id] = c
	}
	return nil
}

// Create validates the draft, stores it as a new contact and returns its id.
func (s *Store) Create(ctx context.Context, draft Draft) (string, error) {
	draft, err := validateDraft(draft)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.ImagePath != "" && s.imageInUse(draft.ImagePath) {
		return "", fmt.Errorf("%w: image %s belongs to another contact", ErrValidation, draft.ImagePath)
	}

	id := s.idGenerator.Generate()
	if _, exists := s.contacts[id]; exists {
		return "", fmt.Errorf("generated id %s already in use", id)
	}

	now := s.timeSource.Now()
	next := maps.Clone(s.contacts)
	next[id] = Contact{
		ID:          id,
		Name:        draft.Name,
		PhoneNumber: draft.PhoneNumber,
		Email:       draft.Email,
		Company:     draft.Company,
		ImagePath:   draft.ImagePath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.commit(ctx, next); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the contact with the given id.
func (s *Store) Get(ctx context.Context, id string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// ImageInUse reports whether any contact references the image key.
func (s *Store) ImageInUse(ctx context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageInUse(key)
}

func (s *Store) imageInUse(key string) bool {
	for _, c := range s.contacts {
		if c.ImagePath == key {
			return true
		}
	}
	return false
}

// List returns every contact, most recently created first.
func (s *Store) List(ctx context.Context) []Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortNewestFirst(slices.Collect(maps.Values(s.contacts)))
}

// Search returns contacts whose name or company contains query, ignoring
// case. An empty query returns the whole collection.
func (s *Store) Search(ctx context.Context, query string) []Contact {
	if query == "" {
		return s.List(ctx)
	}

	lowerQuery := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make([]Contact, 0)
	for _, c := range s.contacts {
		if c.matches(lowerQuery) {
			found = append(found, c)
		}
	}
	return sortNewestFirst(found)
}

// ToggleEdit flips the editing flag of a contact and returns the updated
// record, whose fields seed the caller's edit form.
func (s *Store) ToggleEdit(ctx context.Context, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Editing = !c.Editing

	next := maps.Clone(s.contacts)
	next[id] = c
	if err := s.commit(ctx, next); err != nil {
		return Contact{}, err
	}
	return c, nil
}

// CommitEdit overwrites the editable fields of a contact and leaves edit
// mode. The fields are validated the same way Create validates them.
func (s *Store) CommitEdit(ctx context.Context, id string, draft Draft) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	draft, err := validateDraft(draft)
	if err != nil {
		return Contact{}, err
	}

	c.Name = draft.Name
	c.PhoneNumber = draft.PhoneNumber
	c.Email = draft.Email
	c.Company = draft.Company
	c.Editing = false
	c.UpdatedAt = s.timeSource.Now()

	next := maps.Clone(s.contacts)
	next[id] = c
	if err := s.commit(ctx, next); err != nil {
		return Contact{}, err
	}
	return c, nil
}

// ResetAllEditing takes every contact out of edit mode with a single write
// and returns how many were in edit mode.
func (s *Store) ResetAllEditing(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	next := make(map[string]Contact, len(s.contacts))
	for id, c := range s.contacts {
		if c.Editing {
			c.Editing = false
			cleared++
		}
		next[id] = c
	}

	if err := s.commit(ctx, next); err != nil {
		return 0, err
	}
	return cleared, nil
}

// Delete removes a contact and returns the removed record. Confirming the
// deletion with the user is up to the caller.
func (s *Store) Delete(ctx context.Context, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := maps.Clone(s.contacts)
	delete(next, id)
	if err := s.commit(ctx, next); err != nil {
		return Contact{}, err
	}
	return c, nil
}

// commit writes next in full and swaps it in once the write succeeded.
// Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next map[string]Contact) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: encoding contacts: %w", ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.kv.Set(ctx, contactsKey, data); err != nil {
		return fmt.Errorf("%w: saving contacts: %w", ErrPersistence, err)
	}

	s.contacts = next
	return nil
}

// validateDraft reduces the phone number to digits and checks that a name
// and a phone number are present.
func validateDraft(draft Draft) (Draft, error) {
	draft.PhoneNumber = digitsOnly(draft.PhoneNumber)

	if strings.TrimSpace(draft.Name) == "" {
		return draft, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if draft.PhoneNumber == "" {
		return draft, fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	return draft, nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, s)
}

func containsFold(s, lowerSubstr string) bool {
	return strings.Contains(strings.ToLower(s), lowerSubstr)
}

func sortNewestFirst(contacts []Contact) []Contact {
	slices.SortFunc(contacts, func(a, b Contact) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if contacts == nil {
		return []Contact{}
	}
	return contacts
}
