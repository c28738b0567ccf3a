package monitoring

import (
	"regexp"
	"strconv"
	"strings"
)

// The trainer reports progress as unstructured lines of the form
//
//	Iter 100: Train loss 1.234, Learning Rate 1.000e-05, It/sec 2.1
//	Iter 200: Val loss 1.180, Val took 12.3s
//
// ParseMetrics extracts the metric pairs from such lines so the job's
// metrics map always holds the latest reported value per name.

var iterPattern = regexp.MustCompile(`^Iter\s+(\d+):\s*(.+)$`)

// ParseMetrics extracts metric name/value pairs from one line of trainer
// output. Non-progress lines yield an empty map.
func ParseMetrics(line string) map[string]float64 {
	line = strings.TrimSpace(line)
	m := iterPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	metrics := make(map[string]float64)
	if iter, err := strconv.ParseFloat(m[1], 64); err == nil {
		metrics["iteration"] = iter
	}

	for _, part := range strings.Split(m[2], ",") {
		name, value, ok := splitMetric(strings.TrimSpace(part))
		if !ok {
			continue
		}
		metrics[name] = value
	}
	return metrics
}

// splitMetric parses "Train loss 1.234" into ("train loss", 1.234). The
// value is the last whitespace-separated token; a trailing unit suffix like
// "12.3s" is tolerated.
func splitMetric(part string) (string, float64, bool) {
	idx := strings.LastIndexByte(part, ' ')
	if idx <= 0 {
		return "", 0, false
	}
	name := strings.ToLower(strings.TrimSpace(part[:idx]))
	raw := strings.TrimRight(part[idx+1:], "s")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, false
	}
	return name, value, true
}
