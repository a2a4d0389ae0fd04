package backend

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// tqdm bars as printed by most cog predictors: " 45%|████▌     | 45/100 [00:03<00:04]"
	tqdmProgressRegex  = regexp.MustCompile(`(\d+(?:\.\d+)?)%\s*\|[^|]*\|\s*(\d+)/(\d+)`)
	plainProgressRegex = regexp.MustCompile(`(?i)\b(progress|step)\b\s*[:=]?\s*(\d+(?:\.\d+)?)\s*(%|/\s*(\d+))`)
)

// ProgressFromLogs returns the percentage reported by the last log line
// that carries one.
func ProgressFromLogs(lines []string) (float64, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		// tqdm redraws with carriage returns, the last frame wins
		frames := strings.Split(lines[i], "\r")
		for j := len(frames) - 1; j >= 0; j-- {
			if p, ok := parseProgressLine(frames[j]); ok {
				return p, true
			}
		}
	}
	return 0, false
}

func parseProgressLine(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false
	}

	if strings.HasPrefix(line, "{") && gjson.Valid(line) {
		if v := gjson.Get(line, "percentage"); v.Exists() {
			return clampPercent(v.Float()), true
		}
		if v := gjson.Get(line, "progress"); v.Exists() && v.Type == gjson.Number {
			p := v.Float()
			if p <= 1 {
				p *= 100
			}
			return clampPercent(p), true
		}
		return 0, false
	}

	if m := tqdmProgressRegex.FindStringSubmatch(line); m != nil {
		if p, ok := ratioPercent(m[2], m[3]); ok {
			return p, true
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		return clampPercent(pct), err == nil
	}

	if m := plainProgressRegex.FindStringSubmatch(line); m != nil {
		if m[3] == "%" {
			pct, err := strconv.ParseFloat(m[2], 64)
			return clampPercent(pct), err == nil
		}
		return ratioPercent(m[2], m[4])
	}
	return 0, false
}

func ratioPercent(current, total string) (float64, bool) {
	c, err := strconv.ParseFloat(current, 64)
	if err != nil {
		return 0, false
	}
	t, err := strconv.ParseFloat(total, 64)
	if err != nil || t <= 0 {
		return 0, false
	}
	return clampPercent(c / t * 100), true
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
