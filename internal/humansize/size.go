// Package humansize formats and parses byte counts for log lines and
// configuration values, adapted from the teacher's pkg/util/size.go.
package humansize

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts a human-readable size string (e.g. "10MB", "1.5GB")
// into a byte count. A bare number is interpreted as bytes.
func Parse(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	units := map[string]int64{
		"B":   1,
		"KB":  1024,
		"KIB": 1024,
		"MB":  1024 * 1024,
		"MIB": 1024 * 1024,
		"GB":  1024 * 1024 * 1024,
		"GIB": 1024 * 1024 * 1024,
		"TB":  1024 * 1024 * 1024 * 1024,
		"TIB": 1024 * 1024 * 1024 * 1024,
	}

	var numberPart, unitPart string
	for _, unit := range []string{"KIB", "MIB", "GIB", "TIB", "KB", "MB", "GB", "TB", "B"} {
		if strings.HasSuffix(sizeStr, unit) {
			numberPart = strings.TrimSuffix(sizeStr, unit)
			unitPart = unit
			break
		}
	}

	if unitPart == "" {
		n, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size format: %s", sizeStr)
		}
		return n, nil
	}

	numberPart = strings.TrimSpace(numberPart)
	number, err := strconv.ParseFloat(numberPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %s", numberPart)
	}

	return int64(number * float64(units[unitPart])), nil
}

// Format renders a byte count as a human-readable string (e.g. "4.2 MB").
func Format(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
