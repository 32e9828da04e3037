package mapfile

import "strings"

// SageThreshold — оценка ниже порога означает автогенерированную карту.
const SageThreshold = -4

// generatorMarkers — подписи известных генераторов карт (lower-case).
var generatorMarkers = []string{
	"beat sage",
	"beatsage",
	"deepsaber",
	"topmapper",
	"infinitebeatsaber",
	"beatmapper.ai",
}

// sageScore — эвристическая оценка автогенерации. Чем ниже, тем вероятнее,
// что карта сделана генератором. 0 — признаков нет.
func sageScore(d *Descriptor, stats []*diffStats) int {
	score := 0

	if hasMarker(d.LevelAuthorName) || hasMarker(d.SongSubName) {
		score -= 5
	}
	for name, raw := range d.Editors() {
		if hasMarker(name) || (name == "_lastEditedBy" && hasMarker(string(raw))) {
			score -= 5
			break
		}
	}

	// Генераторы обычно не ставят свет и препятствия
	for _, s := range stats {
		if s.Events == 0 {
			score--
		}
		if s.Obstacles == 0 && s.Bombs == 0 && s.Notes > 0 {
			score--
		}
	}

	if len(d.Contributors()) > 0 {
		score++
	}
	return score
}

// IsGenerated сообщает, что оценка ниже порога.
func IsGenerated(score int) bool {
	return score < SageThreshold
}

func hasMarker(s string) bool {
	s = strings.ToLower(s)
	for _, m := range generatorMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
