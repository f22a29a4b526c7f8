// Package clipboard reads the system clipboard in the three flavors capture cares about.
package clipboard

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Reader is the clipboard as seen by the capture monitor.
// A missing flavor is reported as an empty result, not an error.
type Reader interface {
	ReadImage(ctx context.Context) ([]byte, error)
	ReadHTML(ctx context.Context) (string, error)
	ReadText(ctx context.Context) (string, error)
}

// readTimeout bounds each helper process so a wedged pasteboard cannot stall a poll.
const readTimeout = 2 * time.Second

// System reads the platform clipboard. Plain text goes through atotto/clipboard;
// HTML and image flavors shell out to osascript on macOS and to wl-paste or
// xclip elsewhere.
type System struct {
	goos string
}

// NewSystem returns a Reader for the running platform.
func NewSystem() *System {
	return &System{goos: runtime.GOOS}
}

// ReadText returns the plain-text flavor.
func (s *System) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if clipboard.Unsupported {
		return "", nil
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard text: %w", err)
	}
	return text, nil
}

// ReadHTML returns the HTML flavor, or "" when the clipboard has none.
func (s *System) ReadHTML(ctx context.Context) (string, error) {
	switch s.goos {
	case "darwin":
		out := s.appleScriptData(ctx, "HTML")
		return string(out), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return string(s.unixFlavor(ctx, "text/html")), nil
	default:
		return "", nil
	}
}

// ReadImage returns the raw image flavor bytes, or nil when the clipboard has none.
// Callers normalize the bytes with Normalize before hashing.
func (s *System) ReadImage(ctx context.Context) ([]byte, error) {
	switch s.goos {
	case "darwin":
		if out := s.appleScriptData(ctx, "PNGf"); len(out) > 0 {
			return out, nil
		}
		return s.appleScriptData(ctx, "TIFF"), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return s.unixFlavor(ctx, "image/png"), nil
	default:
		return nil, nil
	}
}

// appleScriptData coerces the clipboard to the given four-char class.
// osascript prints the result as «data XXXX<hex>».
func (s *System) appleScriptData(ctx context.Context, class string) []byte {
	script := fmt.Sprintf("try\nreturn the clipboard as «class %s»\non error\nreturn \"\"\nend try", class)
	out, err := run(ctx, "osascript", "-e", script)
	if err != nil {
		return nil
	}
	return ParseAppleScriptData(out, class)
}

func (s *System) unixFlavor(ctx context.Context, mime string) []byte {
	if _, err := exec.LookPath("wl-paste"); err == nil {
		if out, err := run(ctx, "wl-paste", "--no-newline", "--type", mime); err == nil {
			return out
		}
	}
	if _, err := exec.LookPath("xclip"); err == nil {
		if out, err := run(ctx, "xclip", "-selection", "clipboard", "-t", mime, "-o"); err == nil {
			return out
		}
	}
	return nil
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}

// ParseAppleScriptData decodes osascript's «data CLASShex» rendering.
// Anything else decodes to nil.
func ParseAppleScriptData(out []byte, class string) []byte {
	s := strings.TrimSpace(string(out))
	prefix := "«data " + class
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, "»") {
		return nil
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(s, prefix), "»")
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil
	}
	return data
}

// Image is a clipboard bitmap re-encoded as PNG.
type Image struct {
	PNG    []byte
	Width  int
	Height int
}

// Normalize decodes PNG, JPEG, GIF, BMP or TIFF bytes and re-encodes them as PNG,
// so the same picture hashes the same regardless of the flavor it arrived in.
func Normalize(raw []byte) (*Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode clipboard image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode clipboard image: %w", err)
	}
	b := img.Bounds()
	return &Image{PNG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
