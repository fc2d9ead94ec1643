// internal/i18n/i18n.go
package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type I18n struct {
	mu           sync.RWMutex
	translations map[string]map[string]string
	defaultLang  string
}

var instance *I18n
var once sync.Once

// Initialize loads every <lang>.json file found in localesPath. Later calls are no-ops.
func Initialize(localesPath, defaultLang string) error {
	var err error
	once.Do(func() {
		instance, err = Load(localesPath, defaultLang)
	})
	return err
}

// Load builds a standalone catalog. The default language must have a locale file.
func Load(localesPath, defaultLang string) (*I18n, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	i := &I18n{
		translations: make(map[string]map[string]string),
		defaultLang:  defaultLang,
	}
	if err := i.LoadTranslations(localesPath); err != nil {
		return nil, err
	}
	if _, ok := i.translations[defaultLang]; !ok {
		return nil, fmt.Errorf("no locale file for default language %q in %s", defaultLang, localesPath)
	}
	return i, nil
}

func (i *I18n) LoadTranslations(localesPath string) error {
	files, err := filepath.Glob(filepath.Join(localesPath, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list locale files in %s: %w", localesPath, err)
	}

	for _, filePath := range files {
		lang := strings.TrimSuffix(filepath.Base(filePath), ".json")

		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read locale file %s: %w", filePath, err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return fmt.Errorf("failed to unmarshal locale file %s: %w", filePath, err)
		}

		i.mu.Lock()
		i.translations[lang] = translations
		i.mu.Unlock()
	}

	return nil
}

func (i *I18n) lookup(lang, key string) (string, bool) {
	if translations, ok := i.translations[lang]; ok {
		text, ok := translations[key]
		return text, ok
	}
	return "", false
}

// T falls back to the default language, then to the key itself.
func (i *I18n) T(lang, key string, args ...interface{}) string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	text, ok := i.lookup(lang, key)
	if !ok {
		text, ok = i.lookup(i.defaultLang, key)
	}
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

// Negotiate picks the first loaded locale named in an Accept-Language value.
// "zh-TW" matches zh_TW and a bare "zh" matches the first zh_* locale.
func (i *I18n) Negotiate(acceptLanguage string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.Split(part, ";")[0])
		if tag == "" || tag == "*" {
			continue
		}
		tag = strings.ReplaceAll(tag, "-", "_")
		for _, lang := range i.languages() {
			if strings.EqualFold(lang, tag) {
				return lang
			}
		}
		base := strings.ToLower(strings.Split(tag, "_")[0])
		for _, lang := range i.languages() {
			if strings.ToLower(strings.Split(lang, "_")[0]) == base {
				return lang
			}
		}
	}
	return i.defaultLang
}

func (i *I18n) languages() []string {
	langs := make([]string, 0, len(i.translations))
	for lang := range i.translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Global functions
func T(lang, key string, args ...interface{}) string {
	if instance != nil {
		return instance.T(lang, key, args...)
	}
	return key
}

func Negotiate(acceptLanguage string) string {
	if instance == nil {
		return "en"
	}
	return instance.Negotiate(acceptLanguage)
}

func GetSupportedLanguages() []string {
	if instance == nil {
		return []string{"en"}
	}

	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.languages()
}
