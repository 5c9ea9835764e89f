package generation

import (
	"sort"
	"strings"
)

// Language is an output language the prompts can ask for.
type Language struct {
	Code string
	Name string
}

var supportedLanguages = map[string]string{
	"ar": "Arabic",
	"cs": "Czech",
	"da": "Danish",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fi": "Finnish",
	"fr": "French",
	"he": "Hebrew",
	"hi": "Hindi",
	"hu": "Hungarian",
	"id": "Indonesian",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"no": "Norwegian",
	"pl": "Polish",
	"pt": "Portuguese",
	"ro": "Romanian",
	"ru": "Russian",
	"sv": "Swedish",
	"th": "Thai",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// IsSupportedLanguage reports whether code is on the whitelist.
func IsSupportedLanguage(code string) bool {
	_, ok := supportedLanguages[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// ResolveLanguage returns the whitelisted language for code, or the
// fallback language when code is unknown. The boolean is false when the
// fallback was used. An unknown fallback resolves to English.
func ResolveLanguage(code, fallback string) (Language, bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	if name, ok := supportedLanguages[c]; ok {
		return Language{Code: c, Name: name}, true
	}
	f := strings.ToLower(strings.TrimSpace(fallback))
	if name, ok := supportedLanguages[f]; ok {
		return Language{Code: f, Name: name}, false
	}
	return Language{Code: "en", Name: "English"}, false
}

// SupportedLanguageCodes lists the whitelist in sorted order.
func SupportedLanguageCodes() []string {
	codes := make([]string, 0, len(supportedLanguages))
	for c := range supportedLanguages {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
