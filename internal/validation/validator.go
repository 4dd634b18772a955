package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zots0127/filegate/internal/domain/entities"
)

// extensionCategories groups allowed extensions by the policy category names
// accepted in configuration.
var extensionCategories = map[string][]string{
	"image":        {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg"},
	"document":     {".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt"},
	"spreadsheet":  {".xls", ".xlsx", ".csv", ".ods"},
	"presentation": {".ppt", ".pptx", ".odp"},
	"archive":      {".zip", ".rar", ".7z", ".tar", ".gz"},
	"video":        {".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm"},
	"audio":        {".mp3", ".wav", ".flac", ".aac", ".ogg"},
	"code":         {".py", ".js", ".go", ".html", ".css", ".json", ".xml", ".yaml", ".yml"},
}

// categoryTypes maps each category to the content types it accepts. Entries
// ending in "/" match the whole media family.
var categoryTypes = map[string][]string{
	"image":        {"image/"},
	"document":     {"text/", "application/pdf", "application/rtf", "application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/vnd.oasis.opendocument.text"},
	"spreadsheet":  {"text/csv", "application/vnd.ms-excel", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.oasis.opendocument.spreadsheet"},
	"presentation": {"application/vnd.ms-powerpoint", "application/vnd.openxmlformats-officedocument.presentationml.presentation", "application/vnd.oasis.opendocument.presentation"},
	"archive":      {"application/zip", "application/x-rar-compressed", "application/vnd.rar", "application/x-7z-compressed", "application/x-tar", "application/gzip", "application/x-gzip"},
	"video":        {"video/"},
	"audio":        {"audio/"},
	"code":         {"text/", "application/json", "application/xml", "application/javascript", "application/x-yaml"},
}

// Policy is the immutable upload acceptance configuration: which extensions
// and content-type families are allowed and how large a file may be. Build
// once at startup; safe for concurrent readers.
type Policy struct {
	maxSizeBytes int64
	extensions   map[string]bool
	types        []string
}

// NewPolicy builds a policy from a max size and a list of category names.
// Unknown categories are rejected so a config typo fails fast.
func NewPolicy(maxSizeBytes int64, categories []string) (*Policy, error) {
	if maxSizeBytes <= 0 {
		return nil, fmt.Errorf("max size must be positive, got %d", maxSizeBytes)
	}
	p := &Policy{
		maxSizeBytes: maxSizeBytes,
		extensions:   make(map[string]bool),
	}
	for _, cat := range categories {
		exts, ok := extensionCategories[cat]
		if !ok {
			return nil, fmt.Errorf("unknown file category %q", cat)
		}
		for _, ext := range exts {
			p.extensions[ext] = true
		}
		p.types = append(p.types, categoryTypes[cat]...)
	}
	if len(p.extensions) == 0 {
		return nil, fmt.Errorf("no file categories configured")
	}
	return p, nil
}

// MaxSizeBytes returns the configured upload size limit.
func (p *Policy) MaxSizeBytes() int64 {
	return p.maxSizeBytes
}

func (p *Policy) extensionAllowed(name string) bool {
	return p.extensions[strings.ToLower(filepath.Ext(name))]
}

func (p *Policy) typeAllowed(contentType string) bool {
	for _, t := range p.types {
		if strings.HasSuffix(t, "/") {
			if strings.HasPrefix(contentType, t) {
				return true
			}
		} else if contentType == t {
			return true
		}
	}
	return false
}

// Result carries the values observed from the actual stream. Content is the
// spool file holding the payload, positioned at the start, ready for the
// blob write. The caller owns the spool and must Close it when done.
type Result struct {
	ContentType string
	SizeBytes   int64
	Checksum    string
	Content     *os.File
}

// Close releases the spool file and removes it from disk.
func (r *Result) Close() error {
	name := r.Content.Name()
	err := r.Content.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}

// Validator decides whether an upload is acceptable before any storage I/O
// happens. The payload is spooled to a temp file while being hashed, so an
// in-flight upload never has to fit in memory.
type Validator struct {
	policy *Policy
}

func NewValidator(policy *Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate checks name, content type and size against the policy. The stream
// is read at most one byte past the size limit, so an oversized payload is
// rejected without being consumed in full. Declared size and type are
// advisory only; the result reflects what was actually observed.
func (v *Validator) Validate(name, declaredType string, declaredSize int64, body io.Reader) (*Result, error) {
	if !v.policy.extensionAllowed(name) {
		return nil, entities.ErrInvalidExtension
	}
	if declaredSize > v.policy.maxSizeBytes {
		return nil, entities.ErrFileTooLarge
	}

	spool, err := os.CreateTemp("", "filegate-upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating upload spool: %w", err)
	}
	discard := func() {
		spool.Close()
		os.Remove(spool.Name())
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(spool, hasher), io.LimitReader(body, v.policy.maxSizeBytes+1))
	if err != nil {
		discard()
		return nil, fmt.Errorf("reading upload stream: %w", err)
	}
	if n > v.policy.maxSizeBytes {
		discard()
		return nil, entities.ErrFileTooLarge
	}

	contentType := normalizeType(declaredType)
	if contentType == "" || contentType == "application/octet-stream" {
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			discard()
			return nil, err
		}
		contentType = sniffType(spool, n)
	}
	if !v.policy.typeAllowed(contentType) {
		discard()
		return nil, entities.ErrInvalidContentType
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, err
	}
	return &Result{
		ContentType: contentType,
		SizeBytes:   n,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		Content:     spool,
	}, nil
}

// normalizeType strips parameters like "; charset=utf-8" and lowercases.
func normalizeType(declared string) string {
	if declared == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mediaType
}

func sniffType(head io.Reader, size int64) string {
	if size == 0 {
		return "application/octet-stream"
	}
	detected, err := mimetype.DetectReader(head)
	if err != nil {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
