package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// ErrEmptyReportFile is returned when a report file has no readable text.
var ErrEmptyReportFile = errors.New("report file has no readable text")

// ReportLoader reads a locally written report, such as notes a user keeps
// next to their scans, into plain text.
type ReportLoader struct {
	loader *file.FileLoader
}

func NewReportLoader(ctx context.Context) (*ReportLoader, error) {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init report parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init report loader: %w", err)
	}
	return &ReportLoader{loader: loader}, nil
}

// Load returns the text of every document in path joined by blank lines.
func (l *ReportLoader) Load(ctx context.Context, path string) (string, error) {
	docs, err := l.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load report file: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "", ErrEmptyReportFile
	}
	return builder.String(), nil
}
