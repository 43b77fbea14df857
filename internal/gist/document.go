package gist

import "time"

// Content filenames stored in the remote document.
const (
	ContentFile  = "cookiejar_content.json"
	SettingsFile = "cookiejar_settings.json"
)

// DefaultDescription labels documents created by cookiejar.
const DefaultDescription = "CookieJar - Encrypted Cookies"

// File is one named text file inside a remote document.
type File struct {
	Filename  string `json:"filename,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Document is a remote document as returned by the API.
type Document struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Public      bool            `json:"public"`
	Files       map[string]File `json:"files"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HasFiles reports whether every named file is present in the document.
func (d *Document) HasFiles(names ...string) bool {
	for _, name := range names {
		if _, ok := d.Files[name]; !ok {
			return false
		}
	}
	return true
}

// DocumentBody is the request body for create and update.
// Update bodies may omit any field.
type DocumentBody struct {
	Description string          `json:"description,omitempty"`
	Public      *bool           `json:"public,omitempty"`
	Files       map[string]File `json:"files,omitempty"`
}

// NewBody builds a private document body from filename/content pairs.
func NewBody(description string, files map[string]string) DocumentBody {
	private := false
	body := DocumentBody{
		Description: description,
		Public:      &private,
		Files:       make(map[string]File, len(files)),
	}
	for name, content := range files {
		body.Files[name] = File{Content: content}
	}
	return body
}
