package followup

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComposeOrderingAndVerbatimQuote(t *testing.T) {
	orig := Original{
		From:    "sales@acme.io",
		To:      "lead@example.com",
		Subject: "Quick question",
		Body:    `<p>Hi there,<br>original pitch &amp; details</p>`,
		SentAt:  time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC),
	}

	out, err := Compose("<p>Just bumping this up.</p>", "<p>-- Dana</p>", orig)
	require.NoError(t, err)

	// new pitch, then signature, then header block, then original — in order
	iPitch := strings.Index(out, "Just bumping this up.")
	iSig := strings.Index(out, "-- Dana")
	iFrom := strings.Index(out, "sales@acme.io")
	iOrig := strings.Index(out, orig.Body)
	require.GreaterOrEqual(t, iPitch, 0)
	require.Greater(t, iSig, iPitch)
	require.Greater(t, iFrom, iSig)
	require.Greater(t, iOrig, iFrom)

	// original body is quoted byte-identical, entities untouched
	require.Contains(t, out, orig.Body)

	// header block carries all four fields
	require.Contains(t, out, "<b>From:</b> sales@acme.io")
	require.Contains(t, out, "<b>To:</b> lead@example.com")
	require.Contains(t, out, "<b>Subject:</b> Quick question")
	require.Contains(t, out, "<b>Sent:</b> Wed, 4 Mar 2026 10:30:00 +0000")
}

func TestComposeEscapesHeaderFields(t *testing.T) {
	orig := Original{
		From:    "a@b.c",
		To:      "x@y.z",
		Subject: `<script>alert(1)</script>`,
		Body:    "<p>ok</p>",
		SentAt:  time.Now(),
	}
	out, err := Compose("<p>p</p>", "", orig)
	require.NoError(t, err)
	require.NotContains(t, out, "<script>")
	require.Contains(t, out, "&lt;script&gt;")
}

func TestComposeWithoutSignature(t *testing.T) {
	out, err := Compose("<p>p</p>", "", Original{From: "a@b.c", To: "x@y.z", Subject: "s", Body: "<p>b</p>", SentAt: time.Now()})
	require.NoError(t, err)
	require.NotContains(t, out, "<br><div></div>")
}

func TestComposeRequiresOriginal(t *testing.T) {
	_, err := Compose("<p>p</p>", "", Original{})
	require.ErrorIs(t, err, ErrNoOriginal)
}
