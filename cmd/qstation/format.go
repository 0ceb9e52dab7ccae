package main

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

func formatSize(bytes int64) string {
	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%.0f %s", value, sizeUnits[unit])
	}
	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}

func formatRate(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return formatSize(int64(bps)) + "/s"
}
