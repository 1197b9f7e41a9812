// Package preview turns uploaded image payloads into browser-displayable data URLs.
package preview

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is a user-selected upload.
type File struct {
	Filename string
	Data     []byte
}

// Preview is the decoded, displayable form of a File.
type Preview struct {
	MIMEType string
	DataURL  string
}

// Decoder converts a File into a Preview.
type Decoder interface {
	Decode(ctx context.Context, file File) (Preview, error)
}

// ErrEmptyFile is returned for zero-length uploads.
var ErrEmptyFile = errors.New("file is empty")

// DecodeError reports a file that could not be turned into a preview.
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode preview %q: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DataURLDecoder sniffs the payload's MIME type and base64-encodes it.
type DataURLDecoder struct{}

// NewDecoder returns the default Decoder.
func NewDecoder() DataURLDecoder {
	return DataURLDecoder{}
}

// Decode implements Decoder. Only image/* payloads are accepted.
func (DataURLDecoder) Decode(ctx context.Context, file File) (Preview, error) {
	if err := ctx.Err(); err != nil {
		return Preview{}, &DecodeError{Filename: file.Filename, Err: err}
	}
	if len(file.Data) == 0 {
		return Preview{}, &DecodeError{Filename: file.Filename, Err: ErrEmptyFile}
	}

	mime := DetectImageType(file.Data)
	if mime == "" {
		detected := mimetype.Detect(file.Data).String()
		return Preview{}, &DecodeError{Filename: file.Filename, Err: fmt.Errorf("unsupported content type %s", detected)}
	}

	encoded := base64.StdEncoding.EncodeToString(file.Data)
	if err := ctx.Err(); err != nil {
		return Preview{}, &DecodeError{Filename: file.Filename, Err: err}
	}
	return Preview{MIMEType: mime, DataURL: "data:" + mime + ";base64," + encoded}, nil
}

// DetectImageType returns the payload's image MIME type, or "" when it is not an image.
func DetectImageType(data []byte) string {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return stripParams(detected.String())
		}
	}
	return ""
}

func stripParams(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		return strings.TrimSpace(mime[:i])
	}
	return mime
}
