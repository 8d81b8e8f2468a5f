// Package followup builds reply-style HTML that quotes a previously sent
// message under a new pitch.
package followup

import (
	"errors"
	"html"
	"strings"
	"time"
)

var ErrNoOriginal = errors.New("followup: recipient has no sent original to quote")

// Original is the stored outcome of the parent campaign's send to one
// recipient. Body must be exactly what was delivered; it is quoted verbatim.
type Original struct {
	From    string
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

// Compose renders the follow-up HTML: the new pitch and the sender's
// signature on top, then an Outlook-style header block, then the original
// message body untouched.
func Compose(pitchHTML, signatureHTML string, orig Original) (string, error) {
	if orig.Body == "" || orig.From == "" {
		return "", ErrNoOriginal
	}

	var b strings.Builder
	b.WriteString("<div>")
	b.WriteString(pitchHTML)
	b.WriteString("</div>")
	if signatureHTML != "" {
		b.WriteString("<br><div>")
		b.WriteString(signatureHTML)
		b.WriteString("</div>")
	}
	b.WriteString(`<br><div style="border-top:1px solid #e1e1e1;padding-top:8px;color:#555;font-size:12px">`)
	writeHeaderLine(&b, "From", orig.From)
	writeHeaderLine(&b, "Sent", orig.SentAt.Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	writeHeaderLine(&b, "To", orig.To)
	writeHeaderLine(&b, "Subject", orig.Subject)
	b.WriteString("</div><br><div>")
	b.WriteString(orig.Body)
	b.WriteString("</div>")
	return b.String(), nil
}

func writeHeaderLine(b *strings.Builder, label, value string) {
	b.WriteString("<b>")
	b.WriteString(label)
	b.WriteString(":</b> ")
	b.WriteString(html.EscapeString(value))
	b.WriteString("<br>")
}
