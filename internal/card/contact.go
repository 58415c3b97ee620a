package card

import (
	"errors"
	"time"
)

var (
	// ErrValidation is returned when a contact is missing a required field.
	ErrValidation = errors.New("invalid contact")
	// ErrNotFound is returned when an id is not in the collection.
	ErrNotFound = errors.New("contact not found")
	// ErrPersistence is returned when the collection could not be read from
	// or written to durable storage.
	ErrPersistence = errors.New("persistence failed")
)

// Contact is a stored business card.
type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"` // digits only
	Email       string `json:"email"`
	Company     string `json:"company"`
	// Editing marks the record as currently shown as an editable form.
	Editing   bool      `json:"editing"`
	ImagePath string    `json:"imagePath,omitempty"` // key in Storage
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Draft holds user-adjusted contact fields before they are stored.
type Draft struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
	Company     string `json:"company"`
	ImagePath   string `json:"imagePath,omitempty"`
}

// matches reports whether the contact's name or company contains the
// lowercased query.
func (c *Contact) matches(lowerQuery string) bool {
	return containsFold(c.Name, lowerQuery) || containsFold(c.Company, lowerQuery)
}
