package scanning

import "context"

// Scanner turns a photographed card into the text printed on it.
type Scanner interface {
	// ScanText returns the recognised text, one physical line per line.
	// An empty string means no text was found.
	ScanText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
