package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"genied/internal/common/fsutil"
)

// DefaultMaxBytes bounds how much of a text file is read.
const DefaultMaxBytes = 1 << 20

var (
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	leadSpace   = regexp.MustCompile(`(?m)^[ \t]+`)
	trailSpace  = regexp.MustCompile(`(?m)[ \t]+$`)
	spaceRuns   = regexp.MustCompile(`[ \t]{2,}`)
	hyphenBreak = regexp.MustCompile(`-\n([a-z])`)
)

// TextFile extracts plain text and markdown files from disk.
type TextFile struct {
	// MaxBytes defaults to DefaultMaxBytes.
	MaxBytes int64
}

func (x TextFile) Extract(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := fsutil.ExpandHome(source)
	if err != nil {
		return "", ErrExtraction(source, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", ErrExtraction(source, err)
	}
	defer f.Close()
	limit := x.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", ErrExtraction(source, err)
	}
	if !utf8.Valid(data) {
		return "", ErrExtraction(source, errors.New("not a UTF-8 text file"))
	}
	text := Clean(string(data))
	if text == "" {
		return "", ErrExtraction(source, fmt.Errorf("no text found"))
	}
	return text, nil
}

// Clean normalizes extracted text: unified line endings, trimmed lines,
// single spaces, at most one blank line in a row and rejoined hyphenated
// line breaks.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = leadSpace.ReplaceAllString(text, "")
	text = trailSpace.ReplaceAllString(text, "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = hyphenBreak.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
