package registry

import (
	"strings"
	"unicode"
)

// columnExceptions are source names the default conversion would split wrongly or that the store
// spells differently.
var columnExceptions = map[string]string{
	"Id":               "id",
	"Zipcode":          "zipcode",
	"CountryNL":        "country_nl",
	"CountryFR":        "country_fr",
	"MunicipalityNL":   "municipality_nl",
	"MunicipalityFR":   "municipality_fr",
	"StreetNL":         "street_nl",
	"StreetFR":         "street_fr",
	"JuridicalFormCAC": "juridical_form_cac",
}

// ColumnName maps a source field name to its store column.
func ColumnName(source string) string {
	source = strings.TrimSpace(strings.TrimPrefix(source, "\ufeff"))
	if column, ok := columnExceptions[source]; ok {
		return column
	}
	return snakeCase(source)
}

func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == ' ' || r == '-' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
