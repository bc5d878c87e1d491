package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzip"
)

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// IsGzip reports whether data starts with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, formatError("gzip: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, formatError("gzip: %v", err)
	}
	return out, nil
}

// Parse decodes snapshot bytes, transparently inflating gzip input, and
// rejects documents whose version is not Version. Nothing is persisted here.
func Parse(data []byte) (*Document, error) {
	if IsGzip(data) {
		inflated, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = inflated
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, formatError("empty input")
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if errors.Is(err, ErrFormat) {
			return nil, err
		}
		return nil, formatError("%v", err)
	}
	if err := CheckVersion(&doc); err != nil {
		return nil, err
	}
	if err := validate().Struct(&doc); err != nil {
		return nil, formatError("%v", err)
	}
	doc.normalizeUsers()
	return &doc, nil
}

// Decode reads the whole of r and parses it.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// CheckVersion requires an exact match with Version.
func CheckVersion(doc *Document) error {
	if doc.Metadata.Version != Version {
		return &VersionError{Got: doc.Metadata.Version}
	}
	return nil
}

func Marshal(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

// Compress marshals doc and gzips the result.
func Compress(doc *Document) ([]byte, error) {
	raw, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) normalizeUsers() {
	for i := range d.Users {
		u := &d.Users[i]
		u.Email = cleanString(u.Email)
		u.FirstName = cleanString(u.FirstName)
		u.LastName = cleanString(u.LastName)
		groups := u.Groups[:0]
		for _, g := range u.Groups {
			if g = strings.TrimSpace(g); g != "" && !IsAbsent(g) {
				groups = append(groups, g)
			}
		}
		u.Groups = groups
	}
}

func cleanString(s string) string {
	if IsAbsent(s) {
		return ""
	}
	return s
}
