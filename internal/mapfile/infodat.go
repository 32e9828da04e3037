package mapfile

import (
	"context"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

const (
	maxBPM = 1000

	keySets        = "_difficultyBeatmapSets"
	keyBeatmaps    = "_difficultyBeatmaps"
	keyDifficulty  = "_difficulty"
	keyBeatmapFile = "_beatmapFilename"
)

var knownCharacteristics = map[string]bool{
	"Standard":  true,
	"OneSaber":  true,
	"NoArrows":  true,
	"360Degree": true,
	"90Degree":  true,
	"Lightshow": true,
	"Lawless":   true,
	"Legacy":    true,
}

var knownDifficulties = map[string]bool{
	"Easy":       true,
	"Normal":     true,
	"Hard":       true,
	"Expert":     true,
	"ExpertPlus": true,
}

// InfoDatValidator — проверка Info.dat 2.x по умолчанию.
// Собирает все нарушения, а не останавливается на первом.
type InfoDatValidator struct{}

// NewInfoDatValidator создаёт валидатор Info.dat.
func NewInfoDatValidator() *InfoDatValidator {
	return &InfoDatValidator{}
}

// Validate проверяет дескриптор и считает статистику сложностей.
func (v *InfoDatValidator) Validate(ctx context.Context, in ValidationInput) (*Validated, error) {
	d := in.Descriptor
	var errs Violations

	if !strings.HasPrefix(d.Version, "2.") {
		errs.add("Поддерживается только Info.dat версии 2.x", "_version")
	}
	if strings.TrimSpace(d.SongName) == "" {
		errs.add("Название песни не может быть пустым", "_songName")
	}
	if d.BeatsPerMinute <= 0 || d.BeatsPerMinute > maxBPM {
		errs.add("BPM должен быть больше 0 и не больше 1000", "_beatsPerMinute")
	}

	v.checkFile(in, &errs, d.SongFilename, "_songFilename")
	if d.SongFilename != "" && !strings.EqualFold(extOf(d.SongFilename), AudioExt) {
		errs.add("Аудио должно быть в формате Ogg Vorbis", "_songFilename")
	}
	v.checkFile(in, &errs, d.CoverImageFilename, "_coverImageFilename")
	if d.SongPreviewFilename != "" {
		v.checkFile(in, &errs, d.SongPreviewFilename, "_songPreviewFilename")
	}

	duration := in.Info.Duration
	if duration <= 0 {
		errs.add("Не удалось определить длительность аудио", "_songFilename")
	}
	if d.PreviewStartTime < 0 || (duration > 0 && d.PreviewStartTime >= duration) {
		errs.add("Начало превью должно быть внутри песни", "_previewStartTime")
	}

	if len(d.DifficultyBeatmapSets) == 0 {
		errs.add("В карте нет ни одной сложности", keySets)
	}

	_, hasCinema := in.Archive.Lookup(CinemaFile)
	var (
		records []model.DifficultyRecord
		stats   []*diffStats
	)
	seen := make(map[string]bool)

	for i, set := range d.DifficultyBeatmapSets {
		if !knownCharacteristics[set.CharacteristicName] {
			errs.add("Неизвестная характеристика "+set.CharacteristicName, keySets, i, "_beatmapCharacteristicName")
		}
		if len(set.DifficultyBeatmaps) == 0 {
			errs.add("Набор не содержит сложностей", keySets, i, keyBeatmaps)
		}

		for j, bm := range set.DifficultyBeatmaps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !knownDifficulties[bm.Difficulty] {
				errs.add("Неизвестная сложность "+bm.Difficulty, keySets, i, keyBeatmaps, j, keyDifficulty)
			}
			key := set.CharacteristicName + "/" + bm.Difficulty
			if seen[key] {
				errs.add("Сложность "+key+" указана повторно", keySets, i, keyBeatmaps, j, keyDifficulty)
			}
			seen[key] = true

			if bm.BeatmapFilename == "" {
				errs.add("Не указан файл сложности", keySets, i, keyBeatmaps, j, keyBeatmapFile)
				continue
			}
			data, err := in.Archive.ReadFile(bm.BeatmapFilename)
			if err != nil {
				errs.add("Файл "+bm.BeatmapFilename+" отсутствует в архиве", keySets, i, keyBeatmaps, j, keyBeatmapFile)
				continue
			}
			st, err := parseDifficulty(data)
			if err != nil {
				errs.add("Не удалось разобрать файл "+bm.BeatmapFilename, keySets, i, keyBeatmaps, j, keyBeatmapFile)
				continue
			}
			stats = append(stats, st)
			records = append(records, difficultyRecord(set.CharacteristicName, bm, st, d.BeatsPerMinute, hasCinema))
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &Validated{
		Descriptor:   d,
		Difficulties: records,
		SageScore:    sageScore(d, stats),
	}, nil
}

func (v *InfoDatValidator) checkFile(in ValidationInput, errs *Violations, name, key string) {
	if name == "" {
		errs.add("Не указан файл", key)
		return
	}
	if !in.AllowedFiles[strings.ToLower(name)] {
		errs.add("Файл "+name+" не разрешён", key)
		return
	}
	if _, ok := in.Archive.Lookup(name); !ok {
		errs.add("Файл "+name+" отсутствует в архиве", key)
	}
}

func difficultyRecord(characteristic string, bm Beatmap, st *diffStats, bpm float64, cinema bool) model.DifficultyRecord {
	var seconds float64
	if bpm > 0 {
		seconds = st.LastBeat * 60 / bpm
	}
	var nps float64
	if seconds > 0 {
		nps = float64(st.Notes) / seconds
	}

	var mods []string
	if bm.CustomData != nil {
		mods = append(mods, bm.CustomData.Requirements...)
		mods = append(mods, bm.CustomData.Suggestions...)
	}

	return model.DifficultyRecord{
		Characteristic:    characteristic,
		Difficulty:        bm.Difficulty,
		Notes:             st.Notes,
		Bombs:             st.Bombs,
		Obstacles:         st.Obstacles,
		Events:            st.Events,
		NJS:               bm.NoteJumpMovementSpeed,
		Offset:            bm.NoteJumpStartBeatOffset,
		NPS:               nps,
		Length:            st.LastBeat,
		Seconds:           seconds,
		Chroma:            containsFold(mods, "Chroma"),
		NoodleExtensions:  containsFold(mods, "Noodle Extensions"),
		MappingExtensions: containsFold(mods, "Mapping Extensions"),
		Cinema:            cinema || containsFold(mods, "Cinema"),
	}
}
