// Package report extracts structured findings from JSON-shaped model
// answers, tolerating truncated or otherwise broken JSON, and renders them
// as readable text.
package report

import (
	"fmt"
	"regexp"
	"strings"
)

// Specimen is one collection site/type pair.
type Specimen struct {
	Site string `json:"site"`
	Type string `json:"type"`
}

// Diagnosis is one site's diagnostic result.
type Diagnosis struct {
	Site   string `json:"site"`
	Type   string `json:"type"`
	Result string `json:"result"`
}

// Report holds everything recovered from the input text.
type Report struct {
	PatientInfo  []Field     `json:"patient_info,omitempty"`
	ClinicalData []string    `json:"clinical_data,omitempty"`
	Specimens    []Specimen  `json:"specimens,omitempty"`
	Diagnoses    []Diagnosis `json:"diagnoses,omitempty"`
	Descriptions []string    `json:"descriptions,omitempty"`
	Other        []string    `json:"other,omitempty"`
}

// Field is an ordered key/value pair.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var (
	patientPatterns = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"patient_name", regexp.MustCompile(`(?i)"patient_name"\s*:\s*"([^"]+)"`)},
		{"patient_id", regexp.MustCompile(`(?i)"patient_id"\s*:\s*"([^"]+)"`)},
		{"age", regexp.MustCompile(`(?i)"age"\s*:\s*"([^"]+)"`)},
		{"sex", regexp.MustCompile(`(?i)"sex"\s*:\s*"([^"]+)"`)},
	}

	reWhitespace   = regexp.MustCompile(`\s+`)
	reDoubleComma  = regexp.MustCompile(`,\s*,`)
	reOpenComma    = regexp.MustCompile(`\[\s*,`)
	reCloseComma   = regexp.MustCompile(`,\s*\]`)
	reClinical     = regexp.MustCompile(`(?s)"clinical_data"\s*:\s*\[(.*?)\]`)
	reSpecimenArr  = regexp.MustCompile(`(?s)"specimen"\s*:\s*\[(.*?)\]`)
	reDiagnosisArr = regexp.MustCompile(`(?s)"diagnosis"\s*:\s*\[(.*?)\]`)
	reGrossArr     = regexp.MustCompile(`(?s)"gross_description"\s*:\s*\[(.*?)\]`)
	reObject       = regexp.MustCompile(`(?s)\{(.*?)\}`)
	reQuoted       = regexp.MustCompile(`"([^"]+)"`)
	reSite         = regexp.MustCompile(`"site"\s*:\s*"([^"]+)"`)
	reType         = regexp.MustCompile(`"type"\s*:\s*"([^"]+)"`)
	reResult       = regexp.MustCompile(`"result"\s*:\s*"([^"]+)"`)
	reDescription  = regexp.MustCompile(`"description"\s*:\s*"([^"]+)"`)
	reKV           = regexp.MustCompile(`"([^"]+)"\s*:\s*"([^"]+)"`)
)

// knownKeys are field names already handled by a dedicated section; they are
// excluded from the catch-all pass.
var knownKeys = map[string]bool{
	"patient_name": true,
	"patient_id":   true,
	"age":          true,
	"sex":          true,
	"site":         true,
	"type":         true,
	"result":       true,
	"description":  true,
}

// Extract pulls structured findings out of text. The input may be complete
// JSON, truncated JSON or anything in between; whatever can be recognized
// is recovered.
func Extract(text string) *Report {
	text = cleanText(text)
	r := &Report{}

	for _, p := range patientPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			r.PatientInfo = append(r.PatientInfo, Field{Key: p.key, Value: m[1]})
		}
	}

	if m := reClinical.FindStringSubmatch(text); m != nil {
		for _, q := range reQuoted.FindAllStringSubmatch(m[1], -1) {
			r.ClinicalData = appendUnique(r.ClinicalData, q[1])
		}
	}

	if m := reSpecimenArr.FindStringSubmatch(text); m != nil {
		sites := reSite.FindAllStringSubmatch(m[1], -1)
		types := reType.FindAllStringSubmatch(m[1], -1)
		n := len(sites)
		if len(types) < n {
			n = len(types)
		}
		for i := 0; i < n; i++ {
			r.Specimens = append(r.Specimens, Specimen{Site: sites[i][1], Type: types[i][1]})
		}
	}

	if m := reDiagnosisArr.FindStringSubmatch(text); m != nil {
		for _, obj := range reObject.FindAllStringSubmatch(m[1], -1) {
			site := reSite.FindStringSubmatch(obj[1])
			result := reResult.FindStringSubmatch(obj[1])
			if site == nil || result == nil {
				continue
			}
			d := Diagnosis{Site: site[1], Type: "N/A", Result: result[1]}
			if typ := reType.FindStringSubmatch(obj[1]); typ != nil {
				d.Type = typ[1]
			}
			r.Diagnoses = append(r.Diagnoses, d)
		}
	}

	if m := reGrossArr.FindStringSubmatch(text); m != nil {
		for _, d := range reDescription.FindAllStringSubmatch(m[1], -1) {
			r.Descriptions = appendUnique(r.Descriptions, d[1])
		}
	}

	seen := make(map[string]bool)
	for _, f := range r.PatientInfo {
		seen[f.Key] = true
	}
	for _, kv := range reKV.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(kv[1])
		if knownKeys[key] || seen[key] {
			continue
		}
		seen[key] = true
		r.Other = append(r.Other, kv[1]+": "+kv[2])
	}

	return r
}

// cleanText normalizes whitespace and repairs comma damage common in
// truncated model output.
func cleanText(text string) string {
	text = reWhitespace.ReplaceAllString(text, " ")
	text = reDoubleComma.ReplaceAllString(text, ",")
	text = reOpenComma.ReplaceAllString(text, "[")
	text = reCloseComma.ReplaceAllString(text, "]")
	return strings.TrimSpace(text)
}

// Empty reports whether nothing was recovered.
func (r *Report) Empty() bool {
	return len(r.PatientInfo) == 0 && len(r.ClinicalData) == 0 &&
		len(r.Specimens) == 0 && len(r.Diagnoses) == 0 &&
		len(r.Descriptions) == 0 && len(r.Other) == 0
}

// Render produces the report as coherent sectioned text.
func (r *Report) Render() string {
	var b strings.Builder

	if len(r.PatientInfo) > 0 {
		b.WriteString("PATIENT INFORMATION:\n")
		for _, f := range r.PatientInfo {
			fmt.Fprintf(&b, "  - %s: %s\n", titleKey(f.Key), f.Value)
		}
		b.WriteString("\n")
	}

	if len(r.ClinicalData) > 0 {
		b.WriteString("CLINICAL DATA:\n")
		for _, item := range r.ClinicalData {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
		b.WriteString("\n")
	}

	if len(r.Specimens) > 0 {
		b.WriteString("SPECIMEN COLLECTION SITES:\n")
		for _, s := range r.Specimens {
			fmt.Fprintf(&b, "  - %s - %s\n", s.Site, s.Type)
		}
		b.WriteString("\n")
	}

	if len(r.Diagnoses) > 0 {
		b.WriteString("DIAGNOSIS RESULTS:\n")
		for i, d := range r.Diagnoses {
			fmt.Fprintf(&b, "  %d. Site: %s\n", i+1, d.Site)
			fmt.Fprintf(&b, "     Type: %s\n", d.Type)
			fmt.Fprintf(&b, "     Result: %s\n\n", d.Result)
		}
	}

	if len(r.Descriptions) > 0 {
		b.WriteString("GROSS DESCRIPTIONS:\n")
		for i, d := range r.Descriptions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, d)
		}
		b.WriteString("\n")
	}

	if len(r.Other) > 0 {
		b.WriteString("ADDITIONAL INFORMATION:\n")
		for _, item := range r.Other {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func titleKey(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
