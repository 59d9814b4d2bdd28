package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/ragdesk/internal/notify"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// errOut receives status lines and notifications; command results go to stdout.
var errOut io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(errOut, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorCyan, "→ "+msg))
}

// terminalNotifier renders notifications as status lines.
type terminalNotifier struct{}

func (terminalNotifier) Notify(n notify.Notification) {
	switch n.Level {
	case notify.LevelSuccess:
		printSuccess("%s", n.Message)
	case notify.LevelError:
		printError("%s", n.Message)
	case notify.LevelWarning:
		printWarning("%s", n.Message)
	default:
		printStep("%s", n.Message)
	}
}
