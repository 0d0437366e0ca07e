package classify

import (
	"regexp"
	"strings"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

var (
	cnjRe    = regexp.MustCompile(`\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`)
	oabRe    = regexp.MustCompile(`(?i)\bOAB\s*[/:\-]?\s*([A-Z]{2})\s*[/:\-]?\s*(?:n[º°o.]*\s*)?(\d{1,3}(?:\.\d{3})+|\d{2,7})(?:-?[A-Z])?`)
	amountRe = regexp.MustCompile(`R\$\s?\d{1,3}(?:\.\d{3})*(?:,\d{2})?`)
	dateRe   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	partyRe  = regexp.MustCompile(`(?im)\b(autora?|autores|requerentes?|requerid[oa]s?|r[ée]us?|r[ée]|exequentes?|executad[oa]s?|apelantes?|apelad[oa]s?|agravantes?|agravad[oa]s?|reclamantes?|reclamad[oa]s?|impetrantes?|impetrad[oa]s?|embargantes?|embargad[oa]s?|recorrentes?|recorrid[oa]s?)\s*:\s*([^\n;]+)`)
	digitsRe = regexp.MustCompile(`\D`)
)

const maxPartyName = 120

// ExtractEntities finds CNJ process numbers, OAB registrations, monetary
// amounts, date-like tokens and party names in text. Results are
// deduplicated and keep first-seen order.
func ExtractEntities(text string) model.Entities {
	var e model.Entities
	if text == "" {
		return e
	}

	e.ProcessNumbers = unique(cnjRe.FindAllString(text, -1))
	e.Amounts = unique(amountRe.FindAllString(text, -1))
	e.Dates = unique(dateRe.FindAllString(text, -1))

	var oabs []string
	for _, m := range oabRe.FindAllStringSubmatch(text, -1) {
		oabs = append(oabs, "OAB/"+strings.ToUpper(m[1])+" "+digitsRe.ReplaceAllString(m[2], ""))
	}
	e.OABCodes = unique(oabs)

	seen := make(map[model.Party]bool)
	for _, m := range partyRe.FindAllStringSubmatch(text, -1) {
		name := cleanPartyName(m[2])
		if name == "" {
			continue
		}
		p := model.Party{Role: roleName(m[1]), Name: name}
		if seen[p] {
			continue
		}
		seen[p] = true
		e.Parties = append(e.Parties, p)
	}
	return e
}

// cleanPartyName cuts the captured text at the first separator that usually
// ends a name in publications and bounds its length.
func cleanPartyName(s string) string {
	for _, sep := range []string{" - ", " – ", "(", ",", " ADV", " Adv", " adv"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSpace(strings.Trim(s, " .:-"))
	if r := []rune(s); len(r) > maxPartyName {
		s = strings.TrimSpace(string(r[:maxPartyName]))
	}
	return s
}

// roleName folds a matched role keyword to its lowercase, singular,
// accent-free form.
func roleName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "é", "e")
	switch {
	case s == "autores":
		return "autor"
	case s == "re" || s == "reu" || s == "reus":
		return "reu"
	case strings.HasSuffix(s, "s"):
		return strings.TrimSuffix(s, "s")
	}
	return s
}

func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
