package pve

import "strings"

// numericFields are keys whose 0/1 values are real numbers, compared
// case-insensitively.
var numericFields = map[string]struct{}{
	"vmid":        {},
	"cpu":         {},
	"cpus":        {},
	"mem":         {},
	"maxmem":      {},
	"disk":        {},
	"maxdisk":     {},
	"netin":       {},
	"netout":      {},
	"diskread":    {},
	"diskwrite":   {},
	"uptime":      {},
	"pid":         {},
	"port":        {},
	"node":        {},
	"type":        {},
	"used":        {},
	"avail":       {},
	"total":       {},
	"size":        {},
	"length":      {},
	"count":       {},
	"id":          {},
	"uid":         {},
	"gid":         {},
	"level":       {},
	"numnodes":    {},
	"sockets":     {},
	"cores":       {},
	"threads":     {},
	"shares":      {},
	"balloon_min": {},
	"memhost":     {},
	"freemem":     {},
	"totalmem":    {},
	"swap":        {},
	"swapused":    {},
	"swapfree":    {},
}

// NormalizeBooleans rewrites object values that are exactly 0 or 1 into
// booleans, recursing through objects and arrays. Keys listed in
// numericFields keep their numeric value. Array elements that are numbers are
// never rewritten.
func NormalizeBooleans(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeBooleans(item)
		}
		return out

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if n, ok := value.(float64); ok && (n == 0 || n == 1) {
				if _, numeric := numericFields[strings.ToLower(key)]; numeric {
					out[key] = n
				} else {
					out[key] = n == 1
				}
				continue
			}
			out[key] = NormalizeBooleans(value)
		}
		return out

	default:
		return v
	}
}
