package output

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tanq16/isofetch/internal/transfer"
	"golang.org/x/term"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with 1024-based units. Plain bytes have no
// decimals; everything larger gets two.
func FormatBytes(bytes uint64) string {
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", bytes, byteUnits[unit])
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[unit])
}

func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return FormatBytes(uint64(bytesPerSec)) + "/s"
}

func FormatTimeRemaining(seconds uint64) string {
	if seconds == 0 {
		return "Less than 1s"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func PrintProgressBar(current, total uint64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total == 0 {
		total = 1
	}
	if current > total {
		current = total
	}
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

// ProgressLine is the single stream line shown under a running transfer.
// Without a known total it drops the bar and the ETA.
func ProgressLine(s transfer.State) string {
	sep := " " + StyleSymbols["bullet"] + " "
	if s.Total == 0 {
		return debugStyle.Render(FormatBytes(s.Downloaded) + sep + FormatSpeed(s.Speed))
	}
	text := fmt.Sprintf("%s / %s%s%s", FormatBytes(s.Downloaded), FormatBytes(s.Total), sep, FormatSpeed(s.Speed))
	if eta, ok := s.ETA(); ok {
		text += sep + FormatTimeRemaining(eta)
	}
	return PrintProgressBar(s.Downloaded, s.Total, 30) + debugStyle.Render(text)
}

func getTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

func wrapText(text string, indent int) []string {
	termWidth, _ := getTerminalSize()
	maxWidth := termWidth - indent - 2
	if maxWidth <= 10 {
		maxWidth = 80
	}
	if utf8.RuneCountInString(text) <= maxWidth {
		return []string{text}
	}
	var lines []string
	var current []rune
	for _, r := range text {
		if len(current)+1 > maxWidth {
			lines = append(lines, string(current))
			current = current[:0]
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	return lines
}
