package domain

import "strings"

// Quality is a rung on the canonical video-resolution ladder.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityUltra
	Quality4K
)

// Rung returns the vertical-pixel count used for ordering and comparison.
func (q Quality) Rung() int {
	switch q {
	case QualityLow:
		return 480
	case QualityMedium:
		return 720
	case QualityHigh:
		return 1080
	case QualityUltra:
		return 1440
	case Quality4K:
		return 2160
	default:
		return 0
	}
}

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "480p"
	case QualityMedium:
		return "720p"
	case QualityHigh:
		return "1080p"
	case QualityUltra:
		return "1440p"
	case Quality4K:
		return "2160p"
	default:
		return "unknown"
	}
}

// AllQualities lists the ladder ascending by rung.
var AllQualities = []Quality{QualityLow, QualityMedium, QualityHigh, QualityUltra, Quality4K}

// ParseQuality maps a quality label ("720p", "1080", "4k", ...) to exactly one
// ladder rung. Returns ok=false when the label is not recognized.
func ParseQuality(label string) (Quality, bool) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.TrimSuffix(normalized, "p")
	switch normalized {
	case "480", "sd":
		return QualityLow, true
	case "720", "hd":
		return QualityMedium, true
	case "1080", "fhd", "fullhd":
		return QualityHigh, true
	case "1440", "qhd", "2k":
		return QualityUltra, true
	case "2160", "4k", "uhd":
		return Quality4K, true
	default:
		return 0, false
	}
}

// ClosestNotExceeding returns the highest available quality not exceeding
// requested's rung. If none qualifies, it returns the lowest available quality.
// available must be non-empty.
func ClosestNotExceeding(requested Quality, available []Quality) Quality {
	var best Quality
	haveBest := false
	lowest := available[0]
	for _, q := range available {
		if q.Rung() < lowest.Rung() {
			lowest = q
		}
		if q.Rung() <= requested.Rung() {
			if !haveBest || q.Rung() > best.Rung() {
				best = q
				haveBest = true
			}
		}
	}
	if haveBest {
		return best
	}
	return lowest
}

// SortDescending sorts a quality slice in place, highest rung first, and
// removes duplicates.
func SortDescending(qualities []Quality) []Quality {
	seen := make(map[Quality]struct{}, len(qualities))
	unique := make([]Quality, 0, len(qualities))
	for _, q := range qualities {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		unique = append(unique, q)
	}
	for i := 1; i < len(unique); i++ {
		for j := i; j > 0 && unique[j].Rung() > unique[j-1].Rung(); j-- {
			unique[j], unique[j-1] = unique[j-1], unique[j]
		}
	}
	return unique
}
