package card

import "strings"

// AddressBookEntry is what gets handed to a phone's contacts app.
type AddressBookEntry struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email,omitempty"`
	Company     string `json:"company,omitempty"`
	DialURI     string `json:"dialUri"`
	MessageURI  string `json:"messageUri"`
}

// SplitName splits a stored name the way the cards are printed: family name
// first. The first character is the last name and the rest is the first
// name, so "홍길동" becomes first "길동", last "홍".
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	for i, r := range name {
		if i == 0 {
			last = string(r)
			continue
		}
		return strings.TrimSpace(name[i:]), last
	}
	return "", last
}

// DialURI returns a tel: URI for a stored phone number.
func DialURI(phoneNumber string) string {
	return "tel:" + digitsOnly(phoneNumber)
}

// MessageURI returns an sms: URI for a stored phone number.
func MessageURI(phoneNumber string) string {
	return "sms:" + digitsOnly(phoneNumber)
}

// NewAddressBookEntry converts a contact for export.
func NewAddressBookEntry(c Contact) AddressBookEntry {
	first, last := SplitName(c.Name)
	return AddressBookEntry{
		FirstName:   first,
		LastName:    last,
		PhoneNumber: c.PhoneNumber,
		Email:       c.Email,
		Company:     c.Company,
		DialURI:     DialURI(c.PhoneNumber),
		MessageURI:  MessageURI(c.PhoneNumber),
	}
}
