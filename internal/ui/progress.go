// internal/ui/progress.go
package ui

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/bubbles/progress"
)

const progressWidth = 40

// ProgressLine renders one transfer as a single carriage-return line.
func ProgressLine(name string, done, total int64) string {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(progressWidth))
	ratio := 1.0
	if total > 0 {
		ratio = float64(done) / float64(total)
	}
	return fmt.Sprintf("\r%-24.24s %s %s", filepath.Base(name), bar.ViewAs(ratio), DescriptionStyle.Render(humanBytes(done)))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
