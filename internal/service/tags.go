// tags.go — каталог тегов карты и классификация автогенерации.
package service

import (
	"strings"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/mapfile"
)

const (
	// MaxTitleLength — максимум символов в названии карты.
	MaxTitleLength = 1000
	// MaxDescriptionLength — максимум символов в описании карты.
	MaxDescriptionLength = 10000
)

// TagCategory — категория тега.
type TagCategory string

const (
	TagGenre TagCategory = "genre"
	TagStyle TagCategory = "style"
)

// tagCategoryLimits — максимум тегов одной категории у карты.
var tagCategoryLimits = map[TagCategory]int{
	TagGenre: 2,
	TagStyle: 2,
}

// tagCatalogue — допустимые slug'и тегов.
var tagCatalogue = map[string]TagCategory{
	"tech":        TagStyle,
	"dance-style": TagStyle,
	"speed":       TagStyle,
	"balanced":    TagStyle,
	"challenge":   TagStyle,
	"accuracy":    TagStyle,
	"fitness":     TagStyle,

	"swing":                 TagGenre,
	"nightcore":             TagGenre,
	"folk-acoustic":         TagGenre,
	"kids-family":           TagGenre,
	"ambient":               TagGenre,
	"funk-disco":            TagGenre,
	"jazz":                  TagGenre,
	"classical-orchestral":  TagGenre,
	"soul":                  TagGenre,
	"speedcore":             TagGenre,
	"punk":                  TagGenre,
	"rb":                    TagGenre,
	"holiday":               TagGenre,
	"vocaloid":              TagGenre,
	"j-rock":                TagGenre,
	"trance":                TagGenre,
	"drum-and-bass":         TagGenre,
	"comedy-meme":           TagGenre,
	"instrumental":          TagGenre,
	"hardcore":              TagGenre,
	"k-pop":                 TagGenre,
	"indie":                 TagGenre,
	"techno":                TagGenre,
	"house":                 TagGenre,
	"video-game-soundtrack": TagGenre,
	"tv-movie-soundtrack":   TagGenre,
	"alternative":           TagGenre,
	"dubstep":               TagGenre,
	"metal":                 TagGenre,
	"anime":                 TagGenre,
	"hip-hop-rap":           TagGenre,
	"j-pop":                 TagGenre,
	"dance":                 TagGenre,
	"rock":                  TagGenre,
	"pop":                   TagGenre,
	"electronic":            TagGenre,
}

// FilterTags оставляет известные теги в порядке запроса, без повторов,
// не больше лимита каждой категории. Лишние теги молча отбрасываются.
func FilterTags(requested []string) []string {
	seen := make(map[string]bool, len(requested))
	perCategory := make(map[TagCategory]int)
	out := make([]string, 0, len(requested))

	for _, raw := range requested {
		slug := strings.ToLower(strings.TrimSpace(raw))
		category, ok := tagCatalogue[slug]
		if !ok || seen[slug] {
			continue
		}
		if perCategory[category] >= tagCategoryLimits[category] {
			continue
		}
		seen[slug] = true
		perCategory[category]++
		out = append(out, slug)
	}
	return out
}

// ParseTags разбирает поле формы tags (slug'и через запятую).
func ParseTags(field string) []string {
	var tags []string
	for _, part := range strings.Split(field, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

// ClassifyAI определяет признак автогенерации новой карты.
// Заявление загрузчика важнее эвристики.
func ClassifyAI(declared bool, sageScore int) model.AIDeclaration {
	switch {
	case declared:
		return model.AIUploader
	case mapfile.IsGenerated(sageScore):
		return model.AISage
	}
	return model.AINone
}

// truncateRunes обрезает строку до n символов, не разрывая UTF-8.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
