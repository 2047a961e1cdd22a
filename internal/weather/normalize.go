package weather

import "strings"

// cityAliases maps folded colloquial names to the official spelling.
var cityAliases = map[string]string{
	"йошкар дыра": "Йошкар-Ола",
	"йошкардыра":  "Йошкар-Ола",
	"йошкар":      "Йошкар-Ола",
	"спб":         "Санкт-Петербург",
	"питер":       "Санкт-Петербург",
	"нск":         "Новосибирск",
	"екб":         "Екатеринбург",
	"нн":          "Нижний Новгород",
	"челяба":      "Челябинск",
	"мск":         "Москва",
}

func fold(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// NormalizeCity returns the canonical key for a city name: whitespace is
// trimmed and collapsed, case is folded and known aliases are substituted.
func NormalizeCity(raw string) string {
	key := fold(raw)
	if official, ok := cityAliases[key]; ok {
		return fold(official)
	}
	return key
}

// CanonicalQuery returns the spelling sent to geocoders: the official name
// for a known alias, otherwise the trimmed input.
func CanonicalQuery(raw string) string {
	if official, ok := cityAliases[fold(raw)]; ok {
		return official
	}
	return strings.Join(strings.Fields(raw), " ")
}
