package filetext

import (
	"context"
	"os"
)

// TextExtractor handles plain text and markdown files verbatim.
type TextExtractor struct{}

func (TextExtractor) SupportedExtensions() []string { return []string{"txt", "md"} }

func (TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
