// Package ingest turns uploaded files into plain-text documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/copilot/internal/document"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrEmpty       = errors.New("no text could be extracted")
	ErrTooLarge    = errors.New("file too large")
)

// parseConcurrency bounds how many files ParseAll extracts at once.
const parseConcurrency = 4

// Extractor returns the plain text held in a file's raw bytes.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(data []byte) (string, error)

func (f ExtractorFunc) Extract(data []byte) (string, error) { return f(data) }

// File is a named upload awaiting extraction.
type File struct {
	Name string
	Data []byte
}

// Parser dispatches uploads to an Extractor by file extension.
type Parser struct {
	extractors map[string]Extractor
	maxBytes   int64
	logger     *slog.Logger
}

// NewParser returns a Parser with extractors for every supported format.
// maxBytes <= 0 disables the size limit.
func NewParser(maxBytes int64, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		extractors: make(map[string]Extractor),
		maxBytes:   maxBytes,
		logger:     logger,
	}
	for _, ext := range []string{".txt", ".md", ".markdown", ".csv", ".json"} {
		p.Register(ext, ExtractorFunc(extractText))
	}
	p.Register(".pdf", ExtractorFunc(extractPDF))
	p.Register(".html", newHTMLExtractor())
	p.Register(".htm", newHTMLExtractor())
	p.Register(".docx", ExtractorFunc(extractDOCX))
	p.Register(".xlsx", ExtractorFunc(extractXLSX))
	return p
}

// Register installs e for files ending in ext, replacing any existing one.
func (p *Parser) Register(ext string, e Extractor) {
	p.extractors[strings.ToLower(ext)] = e
}

// Supported returns the registered extensions, sorted.
func (p *Parser) Supported() []string {
	exts := make([]string, 0, len(p.extractors))
	for ext := range p.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse extracts the text of a single file.
func (p *Parser) Parse(name string, data []byte) (document.Document, error) {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))

	e, ok := p.extractors[ext]
	if !ok {
		return document.Document{}, fmt.Errorf("%s: %w %q", base, ErrUnsupported, ext)
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return document.Document{}, fmt.Errorf("%s: %w (%d bytes, limit %d)", base, ErrTooLarge, len(data), p.maxBytes)
	}

	text, err := e.Extract(data)
	if err != nil {
		return document.Document{}, fmt.Errorf("%s: extracting text: %w", base, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return document.Document{}, fmt.Errorf("%s: %w", base, ErrEmpty)
	}

	p.logger.Debug("file parsed", "name", base, "format", ext, "bytes", len(data), "chars", len(text))
	return document.Document{
		Name:      base,
		Content:   text,
		Format:    strings.TrimPrefix(ext, "."),
		SizeBytes: int64(len(data)),
	}, nil
}

// ParseAll parses files concurrently and returns the documents in input
// order. The first failure cancels the remaining work and is returned.
func (p *Parser) ParseAll(ctx context.Context, files []File) ([]document.Document, error) {
	docs := make([]document.Document, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)

	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := p.Parse(f.Name, f.Data)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("file is not valid UTF-8 text")
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}
