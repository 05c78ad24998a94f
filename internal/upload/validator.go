// Package upload validates candidate audio uploads before anything is stored.
package upload

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
)

var (
	ErrNoFile        = errors.New("no file provided")
	ErrNoFilename    = errors.New("filename is required")
	ErrFormat        = errors.New("invalid file format")
	ErrNotAudio      = errors.New("file must be an audio file")
	ErrTooLarge      = errors.New("file too large")
	defaultMediaType = "audio/webm"
)

// Error is a rejected upload with a human readable detail.
type Error struct {
	Err    error
	Detail string
}

func (e *Error) Error() string { return e.Detail }
func (e *Error) Unwrap() error { return e.Err }

// Candidate is an upload as received from the client.
type Candidate struct {
	Filename    string
	ContentType string
	Content     []byte
}

// File is an upload that passed validation.
type File struct {
	Filename string
	MimeType string
	Content  []byte
}

type Validator struct {
	allowed  map[string]bool
	formats  []string
	maxBytes int64
	maxMB    int
}

// NewValidator builds a validator for the given extensions (without dots) and size limit.
func NewValidator(formats []string, maxMB int) *Validator {
	v := &Validator{
		allowed:  make(map[string]bool, len(formats)),
		maxBytes: int64(maxMB) * 1024 * 1024,
		maxMB:    maxMB,
	}
	for _, f := range formats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f != "" && !v.allowed[f] {
			v.allowed[f] = true
			v.formats = append(v.formats, f)
		}
	}
	return v
}

// MaxBytes is the configured upload limit.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// TooLarge builds the size rejection; handlers also use it when the request
// body itself overruns the limit.
func (v *Validator) TooLarge() error {
	return &Error{Err: ErrTooLarge, Detail: fmt.Sprintf("File too large. Max size: %dMB", v.maxMB)}
}

// Validate checks c in order: presence, filename, extension, content type, size.
func (v *Validator) Validate(c *Candidate) (*File, error) {
	if c == nil {
		return nil, &Error{Err: ErrNoFile, Detail: "No file provided"}
	}

	name := normalizeFilename(c.Filename)
	if name == "" {
		return nil, &Error{Err: ErrNoFilename, Detail: "Filename is required"}
	}

	ext := extension(name)
	if !v.allowed[ext] {
		return nil, &Error{Err: ErrFormat, Detail: fmt.Sprintf("Invalid file format. Allowed: %s", strings.Join(v.formats, ", "))}
	}

	contentType := strings.TrimSpace(c.ContentType)
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return nil, &Error{Err: ErrNotAudio, Detail: "File must be an audio file"}
	}

	if int64(len(c.Content)) > v.maxBytes {
		return nil, v.TooLarge()
	}

	return &File{
		Filename: name,
		MimeType: mediaType(contentType, ext),
		Content:  c.Content,
	}, nil
}

// normalizeFilename strips any client-supplied directory part.
func normalizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := strings.TrimSpace(path.Base(name))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// extension is the text after the last dot, lower-cased.
func extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return strings.ToLower(name)
	}
	return strings.ToLower(name[i+1:])
}

func mediaType(declared, ext string) string {
	if declared != "" {
		return declared
	}
	if t := mime.TypeByExtension("." + ext); strings.HasPrefix(t, "audio/") {
		return t
	}
	return defaultMediaType
}
