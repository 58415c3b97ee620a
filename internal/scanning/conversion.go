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

// cardTranscribePrompt is shared by every OCR backend. The reply must be the
// card text only so that line structure survives for extraction.
const cardTranscribePrompt = `You are reading a photographed business card. Transcribe every piece of printed text exactly as it appears.

Rules:
- Put each physical line of text on its own line, in reading order (top to bottom, left to right).
- Do not translate, correct, reformat or summarise anything. Keep punctuation, spacing inside phone numbers and letter case as printed.
- Do not add labels such as "Name:" or "Phone:".
- Do not use markdown code blocks or add any commentary.
- If the image contains no readable text, reply with exactly: ` + noTextMarker

// noTextMarker is what the model answers when the card is blank or unreadable.
const noTextMarker = "NO_TEXT"

// normalizeImage renders the upload as PNG, the only format sent to the OCR
// backends. PDFs are rendered from their first page.
func normalizeImage(data []byte, contentType string) ([]byte, error) {
	mimeType := normalizeMimeType(contentType)

	switch {
	case mimeType == "application/pdf":
		rendered, err := renderPDF(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return rendered, nil
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	case mimeType == "image/png":
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

// normalizeMimeType lowercases the content type and drops parameters.
// Phones that omit it are assumed to send JPEG.
func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}

func renderPDF(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat looks for an ftyp box with a HEIC/HEIF brand at offset 4.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// cleanTranscript strips wrapping the models sometimes add and maps the
// no-text marker to an empty transcript.
func cleanTranscript(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.Trim(text, "\n")

	if strings.TrimSpace(text) == noTextMarker {
		return ""
	}
	return text
}
