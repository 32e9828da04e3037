// Пакет mapfile — дескриптор карты (Info.dat) и нормализация архива.
//
// Дескриптор читается терпимо к комментариям и висячим запятым,
// а записывается обратно в каноническом виде: именно эти байты
// входят в digest версии.
package mapfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
)

const (
	// InfoFile — каноническое имя дескриптора в корне архива.
	InfoFile = "Info.dat"
	// CinemaFile — служебный файл мода Cinema, разрешён всегда.
	CinemaFile = "cinema-video.json"

	// InputAudioExt — расширение аудио в загружаемых архивах.
	InputAudioExt = ".ogg"
	// AudioExt — каноническое расширение аудио в хранилище.
	AudioExt = ".egg"
)

// ErrBadDescriptor — Info.dat не разбирается как JSON.
var ErrBadDescriptor = errors.New("ошибка разбора Info.dat")

// KnownBundleTypes — бандлы Vivify, каждый тип получает отдельный лимит размера.
var KnownBundleTypes = []string{
	"bundleAndroid2021.vivify",
	"bundleWindows2019.vivify",
	"bundleWindows2021.vivify",
}

// Descriptor — Info.dat формата 2.x.
type Descriptor struct {
	Version               string         `json:"_version"`
	SongName              string         `json:"_songName"`
	SongSubName           string         `json:"_songSubName"`
	SongAuthorName        string         `json:"_songAuthorName"`
	LevelAuthorName       string         `json:"_levelAuthorName"`
	BeatsPerMinute        float64        `json:"_beatsPerMinute"`
	Shuffle               float64        `json:"_shuffle"`
	ShufflePeriod         float64        `json:"_shufflePeriod"`
	PreviewStartTime      float64        `json:"_previewStartTime"`
	PreviewDuration       float64        `json:"_previewDuration"`
	SongFilename          string         `json:"_songFilename"`
	SongPreviewFilename   string         `json:"_songPreviewFilename,omitempty"`
	CoverImageFilename    string         `json:"_coverImageFilename"`
	EnvironmentName       string         `json:"_environmentName"`
	AllDirectionsEnvName  string         `json:"_allDirectionsEnvironmentName,omitempty"`
	SongTimeOffset        float64        `json:"_songTimeOffset"`
	CustomData            InfoCustomData `json:"_customData,omitempty"`
	DifficultyBeatmapSets []BeatmapSet   `json:"_difficultyBeatmapSets"`
}

// InfoCustomData — произвольные поля модов. Ключи сохраняются как есть,
// при сериализации сортируются.
type InfoCustomData map[string]json.RawMessage

// Contributor — участник, может ссылаться на иконку в архиве.
type Contributor struct {
	Role     string `json:"_role"`
	Name     string `json:"_name"`
	IconPath string `json:"_iconPath,omitempty"`
}

// BeatmapSet — набор сложностей одной характеристики.
type BeatmapSet struct {
	CharacteristicName string    `json:"_beatmapCharacteristicName"`
	DifficultyBeatmaps []Beatmap `json:"_difficultyBeatmaps"`
}

// Beatmap — одна сложность.
type Beatmap struct {
	Difficulty              string             `json:"_difficulty"`
	DifficultyRank          int                `json:"_difficultyRank"`
	BeatmapFilename         string             `json:"_beatmapFilename"`
	NoteJumpMovementSpeed   float64            `json:"_noteJumpMovementSpeed"`
	NoteJumpStartBeatOffset float64            `json:"_noteJumpStartBeatOffset"`
	CustomData              *BeatmapCustomData `json:"_customData,omitempty"`
}

// BeatmapCustomData — требования и рекомендации модов для сложности.
type BeatmapCustomData struct {
	DifficultyLabel string   `json:"_difficultyLabel,omitempty"`
	Requirements    []string `json:"_requirements,omitempty"`
	Suggestions     []string `json:"_suggestions,omitempty"`
}

// ParseDescriptor разбирает Info.dat. Комментарии и висячие запятые допускаются.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(jsonc.ToJSON(data), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	return &d, nil
}

// Canonical возвращает каноническое представление дескриптора.
func (d *Descriptor) Canonical() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации Info.dat: %w", err)
	}
	return data, nil
}

// DifficultyFiles — файлы сложностей в порядке дескриптора, без повторов.
func (d *Descriptor) DifficultyFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, set := range d.DifficultyBeatmapSets {
		for _, bm := range set.DifficultyBeatmaps {
			key := strings.ToLower(bm.BeatmapFilename)
			if bm.BeatmapFilename == "" || seen[key] {
				continue
			}
			seen[key] = true
			files = append(files, bm.BeatmapFilename)
		}
	}
	return files
}

// Requires сообщает, требует ли хоть одна сложность указанный мод.
func (d *Descriptor) Requires(mod string) bool {
	for _, set := range d.DifficultyBeatmapSets {
		for _, bm := range set.DifficultyBeatmaps {
			if bm.CustomData != nil && containsFold(bm.CustomData.Requirements, mod) {
				return true
			}
		}
	}
	return false
}

// ReferencedFiles — все файлы, на которые ссылается дескриптор
// (аудио, обложка, сложности, иконки участников, бандлы Vivify).
func (d *Descriptor) ReferencedFiles() []string {
	files := []string{d.SongFilename, d.CoverImageFilename, d.SongPreviewFilename}
	files = append(files, d.DifficultyFiles()...)
	for _, c := range d.Contributors() {
		files = append(files, c.IconPath)
	}
	if d.Requires("Vivify") {
		files = append(files, KnownBundleTypes...)
	}

	out := files[:0]
	for _, f := range files {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Contributors разбирает _customData._contributors. Некорректное значение
// считается отсутствующим.
func (d *Descriptor) Contributors() []Contributor {
	raw, ok := d.CustomData["_contributors"]
	if !ok {
		return nil
	}
	var list []Contributor
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// Editors возвращает сведения о редакторах из _customData._editors.
func (d *Descriptor) Editors() map[string]json.RawMessage {
	raw, ok := d.CustomData["_editors"]
	if !ok {
		return nil
	}
	var editors map[string]json.RawMessage
	if err := json.Unmarshal(raw, &editors); err != nil {
		return nil
	}
	return editors
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
