package source

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ParsedMessage holds the parts of an RFC 2822 message used for extraction.
type ParsedMessage struct {
	Subject  string
	From     string
	To       []string
	Date     time.Time
	TextBody string
	HTMLBody string
}

// Text returns the plain-text body, falling back to stripped HTML.
func (p ParsedMessage) Text() string {
	if strings.TrimSpace(p.TextBody) != "" {
		return strings.TrimSpace(p.TextBody)
	}
	return StripHTML(p.HTMLBody)
}

// ParseMIME parses a raw RFC 2822 message using go-message and extracts its
// headers and text/plain and text/html bodies. If the message cannot be
// parsed, the raw bytes are treated as a plain-text body.
func ParseMIME(raw []byte) ParsedMessage {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{TextBody: string(raw)}
	}
	defer mr.Close()

	var parsed ParsedMessage
	parsed.Subject, _ = mr.Header.Subject()
	parsed.Date, _ = mr.Header.Date()

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = formatAddress(from[0])
	}
	for _, key := range []string{"To", "Cc"} {
		list, err := mr.Header.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range list {
			parsed.To = append(parsed.To, addr.Address)
		}
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF or a malformed part; keep what was read so far.
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && parsed.TextBody == "":
			parsed.TextBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && parsed.HTMLBody == "":
			parsed.HTMLBody = string(body)
		}
	}

	return parsed
}

func formatAddress(addr *mail.Address) string {
	if addr.Name != "" {
		return addr.Name + " <" + addr.Address + ">"
	}
	return addr.Address
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// styleBlockPattern matches <style> and <script> blocks whose contents
// are not readable text.
var styleBlockPattern = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)

// StripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := styleBlockPattern.ReplaceAllString(html, "")
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>", "</tr>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
