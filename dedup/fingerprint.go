package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/xraph/courier/job"
)

// Fingerprint returns the SHA-256 hex digest of the normalized payload.
// Text is trimmed and internal whitespace runs collapse to one space;
// media references are sorted; thread parts and bulk items keep their
// order. Payloads that differ only in whitespace or media order share a
// fingerprint.
func Fingerprint(p job.Payload) string {
	var b strings.Builder
	writeField(&b, "text", normalizeText(p.Text))
	writeMedia(&b, p.Media)
	writeField(&b, "reply_to", strings.TrimSpace(p.ReplyTo))
	for i, part := range p.Thread {
		writeField(&b, "thread."+strconv.Itoa(i), normalizeText(part.Text))
		writeMedia(&b, part.Media)
	}
	for i, item := range p.Items {
		writeField(&b, "item."+strconv.Itoa(i), normalizeText(item.Text))
		writeMedia(&b, item.Media)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// writeField length-prefixes values so field boundaries cannot be forged
// by the content itself.
func writeField(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
	b.WriteByte('\n')
}

func writeMedia(b *strings.Builder, media []string) {
	if len(media) == 0 {
		return
	}
	sorted := make([]string, 0, len(media))
	for _, m := range media {
		sorted = append(sorted, strings.TrimSpace(m))
	}
	sort.Strings(sorted)
	for _, m := range sorted {
		writeField(b, "media", m)
	}
}
