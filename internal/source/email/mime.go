package email

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
)

var reURL = regexp.MustCompile(`https?://[^\s<>"']+`)

type parsed struct {
	MessageID string
	Subject   string
	Plain     string
	HTML      string
}

func parseRFC822(raw []byte, fallbackSubject string) (parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return parsed{}, err
	}

	p := parsed{
		MessageID: strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>"),
		Subject:   decodeRFC2047(msg.Header.Get("Subject")),
	}
	if p.Subject == "" {
		p.Subject = decodeRFC2047(fallbackSubject)
	}

	body, err := io.ReadAll(io.LimitReader(msg.Body, 25<<20))
	if err != nil {
		return parsed{}, err
	}
	p.Plain, p.HTML = extractMIMETextParts(msg.Header, body)
	if p.Plain == "" && p.HTML == "" {
		p.Plain = string(body)
	}
	return p, nil
}

// extractMIMETextParts returns the longest text/plain and text/html parts,
// descending into nested multiparts.
func extractMIMETextParts(h mail.Header, body []byte) (plain, htmlPart string) {
	cte := strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding")))

	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return string(decodeTransferEncoding(body, cte)), ""
	}
	mediaType = strings.ToLower(mediaType)

	if !strings.HasPrefix(mediaType, "multipart/") {
		s := string(decodeTransferEncoding(body, cte))
		if strings.HasPrefix(mediaType, "text/html") {
			return "", s
		}
		return s, ""
	}

	boundary := params["boundary"]
	if boundary == "" {
		return string(decodeTransferEncoding(body, cte)), ""
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		partCTE := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
		pMedia, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		pMedia = strings.ToLower(pMedia)

		b, _ := io.ReadAll(io.LimitReader(part, 20<<20))

		if strings.HasPrefix(pMedia, "multipart/") {
			pl, ht := extractMIMETextParts(mail.Header(part.Header), b)
			if len(pl) > len(plain) {
				plain = pl
			}
			if len(ht) > len(htmlPart) {
				htmlPart = ht
			}
			continue
		}

		b = decodeTransferEncoding(b, partCTE)
		switch {
		case strings.HasPrefix(pMedia, "text/plain"):
			if len(b) > len(plain) {
				plain = string(b)
			}
		case strings.HasPrefix(pMedia, "text/html"):
			if len(b) > len(htmlPart) {
				htmlPart = string(b)
			}
		}
	}
	return plain, htmlPart
}

func decodeTransferEncoding(b []byte, cte string) []byte {
	var r io.Reader
	switch cte {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, bytes.NewReader(b))
	case "quoted-printable":
		r = quotedprintable.NewReader(bytes.NewReader(b))
	default:
		return b
	}
	out, err := io.ReadAll(io.LimitReader(r, 6<<20))
	if err != nil && len(out) == 0 {
		return b
	}
	return out
}

func decodeRFC2047(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	out, err := new(mime.WordDecoder).DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// firstURL returns the first link in text, trimmed of trailing punctuation.
func firstURL(text string) string {
	u := reURL.FindString(text)
	return strings.TrimRight(u, ".,);:]\"'")
}
