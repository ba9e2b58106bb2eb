// Package bodies retrieves raw email bodies from the body service or its S3
// archive and decodes them to UTF-8 text.
package bodies

import (
	"context"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// Body is a raw message body as stored upstream.
type Body struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Fetcher loads a body by message id. Implementations return an error
// wrapping models.ErrNotFound when the id is unknown.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Body, error)
}

// Text decodes the body using the charset declared in its content type.
// Bodies without a charset are taken as UTF-8; unknown charsets and invalid
// sequences fall back to UTF-8 with replacement characters.
func Text(b Body) string {
	name := charsetOf(b.ContentType)
	if name != "" && !strings.EqualFold(name, "utf-8") && !strings.EqualFold(name, "utf8") {
		if enc, err := htmlindex.Get(name); err == nil {
			if out, err := enc.NewDecoder().Bytes(b.Data); err == nil {
				return string(out)
			}
		}
	}
	if utf8.Valid(b.Data) {
		return string(b.Data)
	}
	return strings.ToValidUTF8(string(b.Data), "�")
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
