// Package ocr runs an external text recognizer over image assets.
package ocr

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Engine recognizes text in an image file. Run never fails:
// errors and timeouts yield "".
type Engine interface {
	Run(ctx context.Context, imagePath string) string
}

// DefaultTimeout bounds a single recognition.
const DefaultTimeout = 15 * time.Second

// ImagePlaceholder in a command's arguments is replaced with the image path.
const ImagePlaceholder = "{image}"

// DefaultCommand uses tesseract, printing recognized text to stdout.
var DefaultCommand = []string{"tesseract", ImagePlaceholder, "stdout"}

// Command runs an external program and takes its trimmed stdout as the result.
type Command struct {
	args    []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommand builds an Engine from argv. An empty argv selects DefaultCommand;
// a non-positive timeout selects DefaultTimeout.
func NewCommand(args []string, timeout time.Duration, logger *zap.Logger) *Command {
	if len(args) == 0 {
		args = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{args: args, timeout: timeout, logger: logger}
}

// Run executes the command for imagePath.
func (c *Command) Run(ctx context.Context, imagePath string) string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	argv := make([]string, len(c.args))
	substituted := false
	for i, a := range c.args {
		if strings.Contains(a, ImagePlaceholder) {
			substituted = true
		}
		argv[i] = strings.ReplaceAll(a, ImagePlaceholder, imagePath)
	}
	if !substituted {
		argv = append(argv, imagePath)
	}

	if _, err := exec.LookPath(argv[0]); err != nil {
		c.logger.Debug("ocr command unavailable", zap.String("command", argv[0]))
		return ""
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		c.logger.Warn("ocr failed",
			zap.String("path", imagePath),
			zap.Bool("timeout", ctx.Err() == context.DeadlineExceeded),
			zap.Error(err))
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Nop is an Engine that never recognizes anything.
type Nop struct{}

// Run returns "".
func (Nop) Run(context.Context, string) string { return "" }
