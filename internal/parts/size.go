package parts

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human-readable size string like "500MB" into bytes.
// Supports B, KB, MB, GB, TB suffixes (case-insensitive, binary multiples).
// A plain number is treated as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multipliers := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	num, mult := s, int64(1)
	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			num, mult = strings.TrimSuffix(s, m.suffix), m.mult
			break
		}
	}
	if num == "" {
		return 0, fmt.Errorf("missing number in size: %s", s)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size: %s", s)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size too large: %s", s)
	}
	return n * mult, nil
}

// Format renders bytes in binary units, e.g. "1.2 GiB".
func Format(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
