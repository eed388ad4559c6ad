package main

import (
	"fmt"
	"math"
	"strings"
)

// formatStatus renders a status reply the way the device UI shows it.
func formatStatus(info map[string]any) string {
	var b strings.Builder
	if h, ok := info["hostname"].(string); ok {
		fmt.Fprintf(&b, "Hostname: %s\n", h)
	}
	if k, ok := info["kernel"].(string); ok {
		m, _ := info["machine"].(string)
		fmt.Fprintf(&b, "Kernel:   %s %s\n", k, m)
	}
	if up, ok := number(info["uptime"]); ok {
		fmt.Fprintf(&b, "Uptime:   %s\n", formatUptime(up))
	}
	fmt.Fprintf(&b, "Load:     %s\n", formatLoad(info))
	fmt.Fprintf(&b, "Memory:   %s\n", formatMemory(info))
	return b.String()
}

func formatUptime(seconds float64) string {
	s := int64(math.Floor(seconds))
	days := s / 86400
	hours := (s % 86400) / 3600
	minutes := (s % 3600) / 60
	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	parts = append(parts, fmt.Sprintf("%dm", minutes))
	return strings.Join(parts, " ")
}

func formatLoad(info map[string]any) string {
	out := make([]string, 0, 3)
	for _, k := range []string{"load1", "load5", "load15"} {
		v, _ := number(info[k])
		out = append(out, fmt.Sprintf("%.2f", v))
	}
	return strings.Join(out, " / ")
}

func formatMemory(info map[string]any) string {
	mem, _ := info["memory"].(map[string]any)
	total, _ := number(mem["total"])
	avail, _ := number(mem["available"])
	return fmt.Sprintf("%.1f / %.1f MB free", avail/1024/1024, total/1024/1024)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
