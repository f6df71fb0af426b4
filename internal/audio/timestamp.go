package audio

import "fmt"

// FormatTimestamp renders milliseconds as HH:MM:SS, dropping the fraction.
// Negative input renders as zero.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// FormatSeconds is FormatTimestamp for fractional seconds as returned by
// transcription providers.
func FormatSeconds(sec float64) string {
	return FormatTimestamp(int64(sec * 1000))
}
