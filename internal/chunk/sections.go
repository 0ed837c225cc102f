package chunk

import (
	"regexp"
	"strings"
)

type sectionRule struct {
	typ      SectionType
	patterns []*regexp.Regexp
}

func rule(typ SectionType, patterns ...string) sectionRule {
	r := sectionRule{typ: typ}
	for _, p := range patterns {
		r.patterns = append(r.patterns, regexp.MustCompile(`(?i)`+p))
	}
	return r
}

// sectionRules is checked in order; the first matching category wins.
var sectionRules = []sectionRule{
	rule(SectionAnamnese,
		`anamnèse|anamnese|histoire|histoire de la maladie`,
		`motif|raison|consultation`,
		`antécédents|antecedents`,
	),
	rule(SectionDiagnostic,
		`diagnostic|diagnostique|conclusion`,
		`impression|impression clinique`,
		`hypothèse|hypothese diagnostique`,
	),
	rule(SectionTraitement,
		`traitement|therapeutique|thérapeutique`,
		`prescription|médicaments|medicaments`,
		`plan de traitement`,
	),
	rule(SectionExamen,
		`examen|examen clinique|examen physique`,
		`observations|observation`,
		`signes cliniques`,
	),
	rule(SectionEvolution,
		`évolution|evolution|suivi`,
		`prognostic|pronostic`,
		`follow-up`,
	),
}

// classifyLine returns the section a line triggers, or "" if none.
func classifyLine(line string) SectionType {
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return ""
	}
	for _, r := range sectionRules {
		for _, p := range r.patterns {
			if p.MatchString(line) {
				return r.typ
			}
		}
	}
	return ""
}

// DetectSections groups lines into sections. A line opens a new section only
// when it triggers a category different from the current one. Lines before
// the first trigger form a "general" section unless they are blank; text with
// no trigger at all is one "general" section.
func DetectSections(text string) []Section {
	lines := strings.Split(text, "\n")

	var sections []Section
	current := SectionGeneral
	start := 0

	flush := func(end int) {
		body := strings.Join(lines[start:end], "\n")
		if current == SectionGeneral && strings.TrimSpace(body) == "" {
			return
		}
		sections = append(sections, Section{Type: current, StartLine: start, EndLine: end, Text: body})
	}

	for i, line := range lines {
		detected := classifyLine(line)
		if detected == "" || detected == current {
			continue
		}
		if i > start {
			flush(i)
		}
		current = detected
		start = i
	}
	flush(len(lines))

	if len(sections) == 0 {
		return []Section{{Type: SectionGeneral, StartLine: 0, EndLine: len(lines), Text: text}}
	}
	return sections
}
