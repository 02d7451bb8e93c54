// Package summary renders the status card sent with /status.
package summary

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Row is one metric line of the card.
type Row struct {
	Label string
	Value string
}

// Card is everything drawn on the status image.
type Card struct {
	Title       string
	Mode        string
	Phase       string
	Running     bool
	Rows        []Row
	GeneratedAt time.Time
}

// Card styling constants, rendered at 2x scale for Telegram clarity
const (
	cellPaddingX  = 20
	rowHeight     = 64
	headerHeight  = 72
	fontSize      = 26
	titleFontSz   = 36
	titlePadding  = 100
	footerPadding = 70
	labelWidth    = 320.0
	valueWidth    = 280.0
	maxValueLen   = 28
)

// Light theme colors
var (
	bgColor         = color.RGBA{R: 245, G: 247, B: 250, A: 255} // Light gray bg
	titleColor      = color.RGBA{R: 30, G: 41, B: 59, A: 255}    // Dark slate
	headerBgColor   = color.RGBA{R: 37, G: 99, B: 235, A: 255}   // Blue
	pausedBgColor   = color.RGBA{R: 217, G: 119, B: 6, A: 255}   // Amber
	headerTextColor = color.RGBA{R: 255, G: 255, B: 255, A: 255} // White
	rowEvenColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255} // White
	rowOddColor     = color.RGBA{R: 241, G: 245, B: 249, A: 255} // Subtle blue-gray
	textColor       = color.RGBA{R: 30, G: 41, B: 59, A: 255}    // Dark slate
	borderColor     = color.RGBA{R: 203, G: 213, B: 225, A: 255} // Slate border
	footerColor     = color.RGBA{R: 100, G: 116, B: 139, A: 255} // Muted slate
)

// findFont locates a font file across Linux and Windows paths. "" means
// no TrueType font is installed.
func findFont(bold bool) string {
	var candidates []string
	if runtime.GOOS == "windows" {
		winRoot := os.Getenv("WINDIR")
		if winRoot == "" {
			winRoot = `C:\Windows`
		}
		if bold {
			candidates = []string{winRoot + `\Fonts\arialbd.ttf`, winRoot + `\Fonts\Arial Bold.ttf`}
		} else {
			candidates = []string{winRoot + `\Fonts\arial.ttf`, winRoot + `\Fonts\Arial.ttf`}
		}
	} else {
		if bold {
			candidates = []string{
				"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
				"/usr/share/fonts/TTF/DejaVuSans-Bold.ttf",
			}
		} else {
			candidates = []string{
				"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
				"/usr/share/fonts/TTF/DejaVuSans.ttf",
			}
		}
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// setFont loads a TrueType face, falling back to the built-in bitmap
// face on hosts without fonts (containers).
func setFont(dc *gg.Context, bold bool, size float64) {
	if path := findFont(bold); path != "" {
		if err := dc.LoadFontFace(path, size); err == nil {
			return
		}
	}
	dc.SetFontFace(basicfont.Face7x13)
}

// RenderCard draws the card and returns PNG bytes.
func RenderCard(card Card) ([]byte, error) {
	if len(card.Rows) == 0 {
		return nil, fmt.Errorf("no rows to render")
	}
	if card.GeneratedAt.IsZero() {
		card.GeneratedAt = time.Now()
	}

	tableWidth := labelWidth + valueWidth
	canvasWidth := tableWidth + 80 // 40px margin each side
	canvasHeight := float64(titlePadding) + float64(headerHeight) +
		float64(len(card.Rows)*rowHeight) + float64(footerPadding)

	dc := gg.NewContext(int(canvasWidth), int(canvasHeight))

	// Background
	dc.SetColor(bgColor)
	dc.Clear()

	// Title
	setFont(dc, true, titleFontSz)
	dc.SetColor(titleColor)
	title := card.Title
	if title == "" {
		title = "Appointment Sniper"
	}
	dc.DrawStringAnchored(title, canvasWidth/2, float64(titlePadding)/2, 0.5, 0.5)

	tableX := 40.0
	tableY := float64(titlePadding)

	// Header band: mode and phase, amber while paused
	state := "RUNNING"
	dc.SetColor(headerBgColor)
	if !card.Running {
		state = "PAUSED"
		dc.SetColor(pausedBgColor)
	}
	dc.DrawRoundedRectangle(tableX, tableY, tableWidth, float64(headerHeight), 16)
	dc.Fill()

	setFont(dc, true, fontSize)
	dc.SetColor(headerTextColor)
	header := fmt.Sprintf("%s  |  %s  |  %s", card.Mode, card.Phase, state)
	dc.DrawStringAnchored(header, tableX+tableWidth/2, tableY+float64(headerHeight)/2, 0.5, 0.5)

	// Metric rows
	setFont(dc, false, fontSize)
	curY := tableY + float64(headerHeight)
	for i, row := range card.Rows {
		if i%2 == 0 {
			dc.SetColor(rowEvenColor)
		} else {
			dc.SetColor(rowOddColor)
		}
		dc.DrawRectangle(tableX, curY, tableWidth, rowHeight)
		dc.Fill()

		dc.SetColor(borderColor)
		dc.SetLineWidth(0.5)
		dc.DrawLine(tableX, curY+rowHeight, tableX+tableWidth, curY+rowHeight)
		dc.Stroke()

		dc.SetColor(textColor)
		mid := curY + rowHeight/2
		dc.DrawStringAnchored(row.Label, tableX+cellPaddingX, mid, 0, 0.5)
		dc.DrawStringAnchored(truncate(row.Value, maxValueLen), tableX+tableWidth-cellPaddingX, mid, 1, 0.5)
		curY += rowHeight
	}

	// Outer border and the label/value divider
	dc.SetColor(borderColor)
	dc.SetLineWidth(1)
	totalH := float64(headerHeight) + float64(len(card.Rows)*rowHeight)
	dc.DrawRoundedRectangle(tableX, tableY, tableWidth, totalH, 16)
	dc.Stroke()
	dc.SetLineWidth(0.5)
	dc.DrawLine(tableX+labelWidth, tableY+float64(headerHeight), tableX+labelWidth, tableY+totalH)
	dc.Stroke()

	// Footer
	setFont(dc, false, 22)
	dc.SetColor(footerColor)
	footer := "Generated " + card.GeneratedAt.Format("02 Jan 2006, 15:04:05")
	dc.DrawStringAnchored(footer, canvasWidth/2, canvasHeight-float64(footerPadding)/2, 0.5, 0.5)

	return encodeImage(dc.Image())
}

func encodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxLen {
		runes := []rune(s)
		return string(runes[:maxLen]) + "…"
	}
	return s
}
