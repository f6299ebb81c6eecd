package validate

import (
	"strings"

	"golang.org/x/text/language"
)

// SupportedLanguages lists the UI language codes, lower case with
// underscores.
var SupportedLanguages = []string{
	"af", "am", "ar", "az", "bg", "bn", "ca", "cs", "da", "de", "el", "en",
	"en_gb", "es", "es_419", "et", "fa", "fi", "fil", "fr", "gu", "hi", "hr",
	"hu", "hy", "id", "is", "it", "iw", "ja", "ka", "km", "kn", "ko", "lo",
	"lt", "lv", "ml", "mn", "mr", "ms", "ne", "nl", "no", "pl", "pt", "pt_pt",
	"ro", "ru", "si", "sk", "sl", "sr", "sv", "sw", "ta", "te", "th", "tr",
	"uk", "ur", "vi", "zh_cn", "zh_tw",
}

var alternativeCodes = map[string]string{
	"he":         "iw",
	"in":         "id",
	"mo":         "ro",
	"nb":         "no",
	"tl":         "fil",
	"zh":         "zh_cn",
	"zh_hans":    "zh_cn",
	"zh_hans_cn": "zh_cn",
	"zh_hant":    "zh_tw",
	"zh_hant_tw": "zh_tw",
}

// Language maps a requested language to the closest supported code. An
// unknown or malformed language is dropped rather than rejected.
type Language struct {
	Supported []string
}

func (Language) isValidator() {}

func (l Language) Validate(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, nil
	}
	code := FindLanguageCode(s, l.supported())
	if code == "" {
		return nil, nil
	}
	return code, nil
}

func (l Language) supported() []string {
	if len(l.Supported) == 0 {
		return SupportedLanguages
	}
	return l.Supported
}

// FindLanguageCode returns the supported code for lang, walking up the
// tag's parents until a supported or alternative code is found. It
// returns "" when nothing matches.
func FindLanguageCode(lang string, supported []string) string {
	if code := lookupCode(normalizeCode(lang), supported); code != "" {
		return code
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	for !tag.IsRoot() {
		if code := lookupCode(normalizeCode(tag.String()), supported); code != "" {
			return code
		}
		tag = tag.Parent()
	}
	return ""
}

func lookupCode(code string, supported []string) string {
	for _, s := range supported {
		if s == code {
			return code
		}
	}
	if alt, ok := alternativeCodes[code]; ok {
		return alt
	}
	return ""
}

func normalizeCode(lang string) string {
	return strings.ToLower(strings.ReplaceAll(lang, "-", "_"))
}
