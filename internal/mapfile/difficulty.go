package mapfile

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
)

// bombNoteType — тип бомбы в формате 2.x.
const bombNoteType = 3

// diffStats — подсчёт объектов файла сложности.
type diffStats struct {
	Notes     int
	Bombs     int
	Obstacles int
	Events    int
	// LastBeat — последний бит с объектом (длина карты в битах)
	LastBeat float64
}

type v2Note struct {
	Time float64 `json:"_time"`
	Type int     `json:"_type"`
}

type v2Obstacle struct {
	Time     float64 `json:"_time"`
	Duration float64 `json:"_duration"`
}

type v2Event struct {
	Time float64 `json:"_time"`
}

type v2Difficulty struct {
	Version   string       `json:"_version"`
	Notes     []v2Note     `json:"_notes"`
	Obstacles []v2Obstacle `json:"_obstacles"`
	Events    []v2Event    `json:"_events"`
}

type beatObject struct {
	Beat float64 `json:"b"`
}

type v3Obstacle struct {
	Beat     float64 `json:"b"`
	Duration float64 `json:"d"`
}

type v3Difficulty struct {
	Version     string       `json:"version"`
	ColorNotes  []beatObject `json:"colorNotes"`
	BombNotes   []beatObject `json:"bombNotes"`
	Obstacles   []v3Obstacle `json:"obstacles"`
	BasicEvents []beatObject `json:"basicBeatmapEvents"`
	Arcs        []beatObject `json:"sliders"`
	Chains      []beatObject `json:"burstSliders"`
}

// parseDifficulty разбирает файл сложности формата 2.x или 3.x.
func parseDifficulty(data []byte) (*diffStats, error) {
	clean := jsonc.ToJSON(data)

	var probe struct {
		V2 string `json:"_version"`
		V3 string `json:"version"`
	}
	if err := json.Unmarshal(clean, &probe); err != nil {
		return nil, fmt.Errorf("ошибка разбора сложности: %w", err)
	}

	if probe.V3 != "" {
		var d v3Difficulty
		if err := json.Unmarshal(clean, &d); err != nil {
			return nil, fmt.Errorf("ошибка разбора сложности 3.x: %w", err)
		}
		s := &diffStats{
			Notes:     len(d.ColorNotes) + len(d.Chains),
			Bombs:     len(d.BombNotes),
			Obstacles: len(d.Obstacles),
			Events:    len(d.BasicEvents),
		}
		for _, group := range [][]beatObject{d.ColorNotes, d.BombNotes, d.BasicEvents, d.Arcs, d.Chains} {
			for _, o := range group {
				s.LastBeat = max(s.LastBeat, o.Beat)
			}
		}
		for _, o := range d.Obstacles {
			s.LastBeat = max(s.LastBeat, o.Beat+o.Duration)
		}
		return s, nil
	}

	var d v2Difficulty
	if err := json.Unmarshal(clean, &d); err != nil {
		return nil, fmt.Errorf("ошибка разбора сложности 2.x: %w", err)
	}
	s := &diffStats{Obstacles: len(d.Obstacles), Events: len(d.Events)}
	for _, n := range d.Notes {
		if n.Type == bombNoteType {
			s.Bombs++
		} else {
			s.Notes++
		}
		s.LastBeat = max(s.LastBeat, n.Time)
	}
	for _, o := range d.Obstacles {
		s.LastBeat = max(s.LastBeat, o.Time+o.Duration)
	}
	for _, e := range d.Events {
		s.LastBeat = max(s.LastBeat, e.Time)
	}
	return s, nil
}
