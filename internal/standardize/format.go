package standardize

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/address-pipeline/internal/model"
)

// defaultTemplates hold per-country address layouts. Placeholders name the
// component fields; empty components vanish and the separator collapse pass
// removes the artifacts they leave behind.
var defaultTemplates = map[string]string{
	"US": "{street_number} {street_name} {unit}, {city}, {state} {postal_code}",
	"CA": "{street_number} {street_name} {unit}, {city}, {state} {postal_code}",
	"GB": "{street_number} {street_name}, {city}, {postal_code}",
	"AU": "{unit} {street_number} {street_name}, {city} {state} {postal_code}",
	"DE": "{street_name} {street_number}, {postal_code} {city}",
}

var (
	commaRunRe = regexp.MustCompile(`(\s*,\s*)+`)
	spaceRunRe = regexp.MustCompile(`\s{2,}`)
)

type templateFile struct {
	Templates map[string]string `yaml:"templates"`
}

// LoadTemplates reads country template overrides from a YAML file. Entries
// merge over the built-in defaults; countries not named keep their default.
func LoadTemplates(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "standardize: read template file")
	}
	var f templateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "standardize: parse template file")
	}
	merged := make(map[string]string, len(defaultTemplates)+len(f.Templates))
	for k, v := range defaultTemplates {
		merged[k] = v
	}
	for k, v := range f.Templates {
		merged[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return merged, nil
}

// FormatCountry renders components through the template for country. It
// returns "" when no template exists or every referenced component is empty,
// in which case the caller keeps the oracle's own formatted address.
func FormatCountry(c model.AddressComponents, country string, templates map[string]string) string {
	if templates == nil {
		templates = defaultTemplates
	}
	tmpl, ok := templates[strings.ToUpper(strings.TrimSpace(country))]
	if !ok {
		return ""
	}
	fields := map[string]string{
		"{street_number}": c.StreetNumber,
		"{street_name}":   c.StreetName,
		"{unit}":          c.Unit,
		"{city}":          c.City,
		"{state}":         c.State,
		"{postal_code}":   c.PostalCode,
		"{country}":       c.Country,
	}
	out := tmpl
	any := false
	for ph, val := range fields {
		val = strings.TrimSpace(val)
		if val != "" && strings.Contains(tmpl, ph) {
			any = true
		}
		out = strings.ReplaceAll(out, ph, val)
	}
	if !any {
		return ""
	}
	return CollapseSeparators(out)
}

// CollapseSeparators removes the artifacts left by empty template fields:
// repeated commas, runs of spaces, and separators stranded at either edge.
func CollapseSeparators(s string) string {
	s = commaRunRe.ReplaceAllString(s, ", ")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ,")
	return s
}
