package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	rePct = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reETA = regexp.MustCompile(`\bETA\s+([0-9:]+|Unknown)`)
)

// Progress is one parsed yt-dlp download update.
type Progress struct {
	Percent float64
	ETA     string
}

// Comment renders the update as a status comment such as "42.0%, ETA 01:10".
func (p Progress) Comment() string {
	if p.ETA == "" {
		return fmt.Sprintf("%.1f%%", p.Percent)
	}
	return fmt.Sprintf("%.1f%%, ETA %s", p.Percent, p.ETA)
}

// ParseProgress extracts percent and ETA from a "[download]" line.
func ParseProgress(line string) (Progress, bool) {
	l := strings.TrimSpace(line)
	if !strings.HasPrefix(l, "[download]") {
		return Progress{}, false
	}
	m := rePct.FindStringSubmatch(l)
	if len(m) < 2 {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}
	p := Progress{Percent: min(pct, 100)}
	if m := reETA.FindStringSubmatch(l); len(m) > 1 {
		p.ETA = m[1]
	}
	return p, true
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
