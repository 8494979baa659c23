package layout

import (
	"strings"
	"unicode"
)

var knownAbbreviations = map[string]string{
	"id": "ID", "uuid": "UUID", "url": "URL", "pk": "PK",
	"api": "API", "ip": "IP", "vat": "VAT", "sku": "SKU",
	"iban": "IBAN", "html": "HTML",
}

// Humanize turns a binding name such as "int_enum", "intEnum" or
// "customer.vat_id" into a column label ("Int Enum", "Customer VAT ID").
func Humanize(name string) string {
	if name == "" {
		return ""
	}
	words := splitWords(name)
	for i, w := range words {
		if abbr, ok := knownAbbreviations[strings.ToLower(w)]; ok {
			words[i] = abbr
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// splitWords splits on underscores, dots, dashes and lower→upper camel-case
// boundaries.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	prevLower := false
	for _, r := range s {
		switch {
		case r == '_' || r == '.' || r == '-' || r == ' ':
			flush()
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			flush()
		}
		cur = append(cur, r)
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	flush()
	return words
}
