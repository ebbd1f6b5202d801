package localization

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Localizer struct {
	messages map[string]map[string]string
	fallback string
}

// NewLocalizer loads every <lang>.json under locales/ in dir. Unreadable
// files are logged and skipped.
func NewLocalizer(dir fs.FS) (*Localizer, error) {
	messages := make(map[string]map[string]string)

	files, err := fs.ReadDir(dir, "locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales directory: %w", err)
	}

	for _, file := range files {
		if path.Ext(file.Name()) != ".json" {
			continue
		}
		lang := strings.TrimSuffix(file.Name(), ".json")
		content, err := fs.ReadFile(dir, path.Join("locales", file.Name()))
		if err != nil {
			slog.Warn("failed to read locale file", slog.String("file", file.Name()), slog.String("error", err.Error()))
			continue
		}
		var langMessages map[string]string
		if err := json.Unmarshal(content, &langMessages); err != nil {
			slog.Warn("failed to parse locale file", slog.String("file", file.Name()), slog.String("error", err.Error()))
			continue
		}
		messages[lang] = langMessages
		slog.Debug("loaded language", slog.String("lang", lang))
	}

	return &Localizer{messages: messages, fallback: "en"}, nil
}

// GetMessage returns the message for key in lang, falling back to English
// and finally to the key itself.
func (l *Localizer) GetMessage(lang, key string) string {
	if langMessages, ok := l.messages[lang]; ok {
		if message, ok := langMessages[key]; ok {
			return message
		}
	}
	if defaultMessages, ok := l.messages[l.fallback]; ok {
		if message, ok := defaultMessages[key]; ok {
			return message
		}
	}
	return key
}

func (l *Localizer) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetMessage(lang, key), args...)
}

// Escape makes user supplied text safe to embed in an HTML formatted
// message. Markup characters are entity-escaped, never dropped.
func Escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
