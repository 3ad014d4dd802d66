// Package localization provides the notification texts sent to chat
// participants. Translations are JSON files, one per language code.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

// DefaultLang is used when a key is missing in the requested language.
const DefaultLang = "en"

// Keys of the bundled notices.
const (
	KeyLeftChat      = "left_chat"
	KeyInactiveRoom  = "inactive_room"
	KeyRoomConnected = "room_connected"
)

//go:embed locales/*.json
var bundled embed.FS

// Localizer maps language -> key -> text.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads the translations shipped with the binary.
func NewLocalizer() (*Localizer, error) {
	return NewLocalizerFS(bundled, "locales")
}

// NewLocalizerFS loads every *.json file in dir of fsys. The file name
// without extension is the language code.
func NewLocalizerFS(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{translations: make(map[string]map[string]string)}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", e.Name(), err)
		}
		var tr map[string]string
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", e.Name(), err)
		}
		l.translations[strings.TrimSuffix(e.Name(), ".json")] = tr
	}
	return l, nil
}

// GetString returns the text for key in lang, falling back to English and
// then to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if tr, ok := l.translations[lang]; ok {
		if v, ok := tr[key]; ok {
			return v
		}
	}
	if lang != DefaultLang {
		if v, ok := l.translations[DefaultLang][key]; ok {
			return v
		}
	}
	return key
}
