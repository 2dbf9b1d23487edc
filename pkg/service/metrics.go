package service

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

func runtimeMetrics() map[string]int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]int64{
		"memory_alloc_bytes": int64(m.Alloc),
		"goroutines":         int64(runtime.NumGoroutine()),
	}
}

func formatMetrics(metrics map[string]int64) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, metrics[k]))
	}
	return strings.Join(parts, " ")
}
