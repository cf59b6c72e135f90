// Package categorize maps a document's textual signals to a taxonomy label.
//
// Classification is a pure function over an immutable weighted-keyword
// table: identical input always yields identical output.
package categorize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/canary-data/docharvester/internal/harvest"
)

// General is the fallback label for documents matching no category.
const General = "general"

// Categories in fixed evaluation order, keeping score comparison
// deterministic.
var Categories = []string{"fiscal", "laboral", "municipal", "autonomico", General}

type stem struct {
	text   string
	weight int
}

// keywordTable holds weighted stems per category. Weights: 3 = strongly
// indicative, 2 = indicative, 1 = weakly indicative.
var keywordTable = map[string][]stem{
	"fiscal": {
		{"impuesto", 3}, {"igic", 3}, {"irpf", 3}, {"iva", 3}, {"tributari", 3},
		{"fiscal", 3}, {"hacienda", 3}, {"modelo", 3}, {"declaracion", 3},
		{"liquidacion", 3}, {"aeat", 3},
		{"recargo", 2}, {"bonificacion", 2}, {"exencion", 2}, {"gravamen", 2},
		{"cuota", 2}, {"base imponible", 2}, {"deduccion", 2}, {"retencion", 2},
		{"canon", 1}, {"tributo", 1},
	},
	"laboral": {
		{"trabajo", 3}, {"empleo", 3}, {"contrato", 3}, {"nomina", 3},
		{"seguridad social", 3}, {"autonomo", 3}, {"cotizacion", 3},
		{"afiliacion", 3}, {"sepe", 3},
		{"prestacion", 2}, {"desempleo", 2}, {"convenio", 2}, {"laboral", 2},
		{"trabajador", 2}, {"mutua", 2}, {"incapacidad", 2}, {"jubilacion", 2},
		{"formacion", 1}, {"riesgo laboral", 1},
	},
	"municipal": {
		{"licencia", 3}, {"municipal", 3}, {"ayuntamiento", 3}, {"ordenanza", 3},
		{"apertura", 3}, {"obras", 3}, {"urbanismo", 3}, {"cabildo", 3},
		{"tasa", 2}, {"ocupacion via publica", 2}, {"terraza", 2}, {"mercadillo", 2},
		{"padron", 1}, {"empadronamiento", 1}, {"censo", 1},
	},
	"autonomico": {
		{"canarias", 3}, {"gobierno", 3}, {"consejeria", 3}, {"decreto", 3},
		{"subvencion", 3}, {"ayuda", 3}, {"programa", 3}, {"plan", 3},
		{"fondo", 2}, {"desarrollo", 2}, {"competitividad", 2}, {"innovacion", 2},
		{"internacionalizacion", 2}, {"zona especial canaria", 2},
		{"turismo", 1}, {"agricultura", 1}, {"pesca", 1}, {"medio ambiente", 1},
	},
}

// stripAccents removes combining marks so "Guía" and "guia" score alike.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Categorizer scores free-text document signals against the keyword table.
// The per-institution defaults break ties.
type Categorizer struct {
	defaults map[string]string
}

// New builds a Categorizer. defaults maps institution id to that
// institution's fallback category.
func New(defaults map[string]string) *Categorizer {
	if defaults == nil {
		defaults = make(map[string]string)
	}
	return &Categorizer{defaults: defaults}
}

// Categorize assigns the taxonomy label for the given signals. The category
// with the strictly highest score wins; ties fall back to the institution's
// default category when it is among the tied set, then to "general".
func (c *Categorizer) Categorize(title, urlPath, institutionID, docType string) string {
	text := Normalize(title + " " + urlPath)
	if strings.TrimSpace(text) == "" {
		return General
	}

	best := General
	bestScore := 0
	tied := false
	for _, cat := range Categories {
		score := scoreCategory(text, keywordTable[cat])
		switch {
		case score > bestScore:
			best, bestScore, tied = cat, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 {
		return General
	}
	if tied {
		if def, ok := c.defaults[institutionID]; ok && scoreCategory(text, keywordTable[def]) == bestScore {
			return def
		}
		return General
	}
	return best
}

func scoreCategory(text string, stems []stem) int {
	score := 0
	for _, s := range stems {
		if strings.Contains(text, s.text) {
			score += s.weight
		}
	}
	return score
}

// Normalize lowercases and strips accents from s.
func Normalize(s string) string {
	lowered := strings.ToLower(s)
	out, _, err := transform.String(stripAccents, lowered)
	if err != nil {
		return lowered
	}
	return out
}

// DefaultsFromSources extracts the per-institution default categories from
// the source table.
func DefaultsFromSources(sources map[string]harvest.SourceConfig) map[string]string {
	defaults := make(map[string]string, len(sources))
	for id, src := range sources {
		if src.DefaultCategory != "" {
			defaults[id] = src.DefaultCategory
		}
	}
	return defaults
}
