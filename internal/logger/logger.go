package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

var colorized = isatty.IsTerminal(os.Stdout.Fd())

func paint(color, s string) string {
	if !colorized {
		return s
	}
	return color + s + colorReset
}

func stamp() string {
	return paint(colorGray, time.Now().Format("15:04:05"))
}

func line(symbol, color, tag, msg string) {
	fmt.Printf("%s %s %s %s\n", stamp(), paint(color, symbol), paint(colorBold, "["+tag+"]"), msg)
}

// Info logs a neutral informational message with a component tag.
func Info(tag, msg string) {
	line("•", colorCyan, tag, msg)
}

// Success logs a completed operation.
func Success(tag, msg string) {
	line("✓", colorGreen, tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line("!", colorYellow, tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	line("✗", colorRed, tag, msg)
}

// Section prints a visual divider before a new phase of work.
func Section(title string) {
	fmt.Printf("\n%s %s\n", paint(colorBold, "──"), paint(colorBold, title))
}

// Stats prints a key/value pair, aligned for scanning.
func Stats(key string, value interface{}) {
	fmt.Printf("   %s %v\n", paint(colorGray, key+":"), value)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Println(paint(colorCyan, `
  ┌─────────────────────────────┐
  │  refurb-bridge  `+version+`
  │  marketplace sync & repricing
  └─────────────────────────────┘`))
}

// Server logs the address the HTTP server is listening on.
func Server(addr string) {
	Success("Server", fmt.Sprintf("Listening on http://%s", addr))
}
