package standardize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-pipeline/internal/model"
)

func TestCollapseSeparators(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 Main St , , MD 21122", "123 Main St, MD 21122"},
		{", Berlin, 10117", "Berlin, 10117"},
		{"123 Main St,,, Pasadena", "123 Main St, Pasadena"},
		{"  45   Oak Ave  ", "45 Oak Ave"},
		{"78 Elm St, Dover, DE 19901", "78 Elm St, Dover, DE 19901"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseSeparators(tt.in), "input %q", tt.in)
	}
}

func TestFormatCountry(t *testing.T) {
	full := model.AddressComponents{
		StreetNumber: "123",
		StreetName:   "Main St",
		Unit:         "Apt 4",
		City:         "Pasadena",
		State:        "MD",
		PostalCode:   "21122",
	}

	assert.Equal(t, "123 Main St Apt 4, Pasadena, MD 21122", FormatCountry(full, "US", nil))
	assert.Equal(t, "123 Main St Apt 4, Pasadena, MD 21122", FormatCountry(full, "us", nil))

	// German layout puts the house number after the street and leads with
	// the postal code.
	de := model.AddressComponents{
		StreetNumber: "12",
		StreetName:   "Unter den Linden",
		City:         "Berlin",
		PostalCode:   "10117",
	}
	assert.Equal(t, "Unter den Linden 12, 10117 Berlin", FormatCountry(de, "DE", nil))

	// Unknown country keeps the oracle's own formatting upstream.
	assert.Equal(t, "", FormatCountry(full, "ZZ", nil))

	// All-empty components produce nothing rather than bare separators.
	assert.Equal(t, "", FormatCountry(model.AddressComponents{}, "US", nil))
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  us: \"{street_name} / {city}\"\n  fr: \"{street_number} {street_name}, {postal_code} {city}\"\n"), 0o644))

	templates, err := LoadTemplates(path)
	require.NoError(t, err)

	c := model.AddressComponents{
		StreetNumber: "9",
		StreetName:   "Rue Cler",
		City:         "Paris",
		PostalCode:   "75007",
	}
	assert.Equal(t, "Rue Cler / Paris", FormatCountry(c, "US", templates))
	assert.Equal(t, "9 Rue Cler, 75007 Paris", FormatCountry(c, "FR", templates))
	// Countries not overridden keep their defaults.
	assert.Equal(t, "Rue Cler 9, 75007 Paris", FormatCountry(c, "DE", templates))

	_, err = LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
