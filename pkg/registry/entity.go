package registry

import (
	"unicode"

	"github.com/Ramsey-B/fern/pkg/models"
)

// EntityTypeOf derives the entity type from the shape of a business key. Enterprise numbers are ten
// digits starting with 0 or 1 ("0200.065.765"); establishment numbers start with 2 to 8
// ("2.000.000.339").
func EntityTypeOf(key string) models.EntityType {
	digits := make([]rune, 0, len(key))
	for _, r := range key {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) == 10 && (digits[0] == '0' || digits[0] == '1') {
		return models.EntityTypeEnterprise
	}
	return models.EntityTypeEstablishment
}

// LegalNameType is the denomination type of an entity's official name.
const LegalNameType = "001"

// Language codes used by denominations.
const (
	LanguageUnknown = "0"
	LanguageFrench  = "1"
	LanguageDutch   = "2"
	LanguageGerman  = "3"
	LanguageEnglish = "4"
)

// NameLanguagePriority is the order in which legal names are preferred as the primary name.
var NameLanguagePriority = []string{LanguageDutch, LanguageFrench, LanguageGerman, LanguageEnglish, LanguageUnknown}

// ResolvePrimaryName picks the legal name in the first available language of the cascade. Names in
// languages outside the cascade are used only when nothing else exists.
func ResolvePrimaryName(names []models.LegalName) (models.LegalName, bool) {
	if len(names) == 0 {
		return models.LegalName{}, false
	}

	rank := func(language string) int {
		for i, l := range NameLanguagePriority {
			if l == language {
				return i
			}
		}
		return len(NameLanguagePriority)
	}

	best := -1
	for i, n := range names {
		if n.Denomination == "" {
			continue
		}
		if best < 0 || rank(n.Language) < rank(names[best].Language) ||
			(rank(n.Language) == rank(names[best].Language) && n.Denomination < names[best].Denomination) {
			best = i
		}
	}
	if best < 0 {
		return models.LegalName{}, false
	}
	return names[best], true
}
