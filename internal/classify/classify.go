// Package classify assigns a publication type, urgency and deadline to
// normalized publication text using fixed keyword heuristics, and extracts
// procedural entities from the raw text.
package classify

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

// typeKeywords lists the keywords counted for each type, matched against
// normalized (lowercase, accent-free) text. Order matters: on a tie the
// earlier type wins.
var typeKeywords = []struct {
	Type     model.PublicationType
	Keywords []string
}{
	{model.TypeSentenca, []string{
		"sentenca", "julgo procedente", "julgo improcedente", "julgo parcialmente procedente",
		"julgo extinto", "extingo o processo", "resolucao do merito", "transitada em julgado",
	}},
	{model.TypeDecisao, []string{
		"decisao interlocutoria", "defiro", "indefiro", "tutela de urgencia",
		"tutela antecipada", "liminar", "antecipacao de tutela",
	}},
	{model.TypeDespacho, []string{
		"despacho", "cite-se", "intime-se", "cumpra-se", "vista ao", "conclusos", "manifeste-se",
	}},
	{model.TypeIntimacao, []string{
		"intimacao", "fica intimado", "fica intimada", "ficam intimados", "ficam intimadas", "intimem-se",
	}},
	{model.TypeCitacao, []string{
		"citacao", "fica citado", "fica citada", "ficam citados", "mandado de citacao",
	}},
	{model.TypeEdital, []string{
		"edital", "faz saber", "pelo presente edital", "publica-se o presente",
	}},
	{model.TypeAudiencia, []string{
		"audiencia", "designo audiencia", "sessao de julgamento", "pauta de julgamento", "audiencia de conciliacao",
	}},
}

var urgencyKeywords = []string{
	"urgente", "urgencia", "imediato", "imediatamente", "improrrogavel",
	"sob pena de", "24 horas", "48 horas", "com urgencia",
}

// defaultDeadlines holds per-type deadlines in days applied when the text
// does not state one.
var defaultDeadlines = map[model.PublicationType]int{
	model.TypeCitacao:   15,
	model.TypeIntimacao: 5,
}

// urgentDeadline is the deadline at or below which a publication is urgent
// regardless of keywords.
const urgentDeadline = 5

var deadlinePattern = regexp.MustCompile(`prazo de (\d{1,3})\s*(?:\([a-z ]+\)\s*)?dias`)

// Type returns the publication type with the most keyword hits and a
// confidence of min(hits/3, 1). Text with no hits is (outro, 0.5).
func Type(text string) (model.PublicationType, float64) {
	bestType := model.TypeOutro
	bestCount := 0
	for _, tk := range typeKeywords {
		count := 0
		for _, kw := range tk.Keywords {
			count += strings.Count(text, kw)
		}
		if count > bestCount {
			bestType = tk.Type
			bestCount = count
		}
	}
	if bestCount == 0 {
		return model.TypeOutro, 0.5
	}
	return bestType, math.Min(float64(bestCount)/3.0, 1.0)
}

// Urgency reports whether a publication is urgent and its deadline in days.
// An explicit "prazo de N dias" overrides the per-type default; a deadline of
// five days or fewer is always urgent.
func Urgency(text string, t model.PublicationType) (bool, *int) {
	urgent := false
	for _, kw := range urgencyKeywords {
		if strings.Contains(text, kw) {
			urgent = true
			break
		}
	}

	var deadline *int
	if m := deadlinePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			deadline = &n
		}
	}
	if deadline == nil {
		if d, ok := defaultDeadlines[t]; ok {
			deadline = &d
		}
	}
	if deadline != nil && *deadline <= urgentDeadline {
		urgent = true
	}
	return urgent, deadline
}

// Analyze runs type, urgency and entity extraction. Type and urgency read
// the normalized text; entities are extracted from the original so that
// currency symbols and casing survive.
func Analyze(original, normalized string) model.Classification {
	t, confidence := Type(normalized)
	urgent, deadline := Urgency(normalized, t)
	return model.Classification{
		Type:         t,
		Confidence:   confidence,
		Urgent:       urgent,
		DeadlineDays: deadline,
		Entities:     ExtractEntities(original),
	}
}
