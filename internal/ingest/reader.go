// Package ingest turns research files into text for extraction turns.
// Plain text and Markdown pass through, CSV rows become labelled lines and
// HTML pages are reduced to their readable text.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"evidencelab/internal/logging"

	"golang.org/x/sync/errgroup"
)

// MaxFileBytes caps a single ingested file.
const MaxFileBytes = 1 << 20

// DefaultParallelism bounds concurrent file reads in ReadAll.
const DefaultParallelism = 4

// Document is one readable source file.
type Document struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Kind string `json:"kind"` // text, csv or html
	Text string `json:"text"`
}

// ReadSource reads path and converts it by extension.
func ReadSource(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileBytes {
		return nil, fmt.Errorf("%s is %d bytes, larger than the %d byte limit", path, info.Size(), MaxFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc := &Document{Path: path, Name: filepath.Base(path), Kind: "text"}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		doc.Kind = "html"
		doc.Text, err = ExtractHTMLText(bytes.NewReader(data))
	case ".csv":
		doc.Kind = "csv"
		doc.Text, err = csvToText(bytes.NewReader(data))
	default:
		doc.Text = string(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", path, err)
	}
	doc.Text = strings.TrimSpace(doc.Text)
	logging.IngestDebug("read %s as %s (%d chars)", doc.Name, doc.Kind, len(doc.Text))
	return doc, nil
}

// ReadAll reads every path concurrently and returns documents in input
// order. The first failure cancels the rest.
func ReadAll(ctx context.Context, paths []string, parallelism int) ([]Document, error) {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	docs := make([]Document, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := ReadSource(p)
			if err != nil {
				return err
			}
			docs[i] = *doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logging.Ingest("read %d documents", len(docs))
	return docs, nil
}

// Expand resolves files and directories into a sorted list of files whose
// extension is in exts. Directories are not walked recursively. Explicit
// file arguments are kept even if their extension is not listed.
func Expand(paths, exts []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", p, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && Accepts(e.Name(), exts) {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// Accepts reports whether name has one of exts (case-insensitive).
// Hidden and editor temp files are never accepted.
func Accepts(name string, exts []string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// csvToText renders each record as "header: value" lines so the extractor
// sees which column a value came from.
func csvToText(r io.Reader) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	header := records[0]

	var sb strings.Builder
	for i, rec := range records[1:] {
		fmt.Fprintf(&sb, "Row %d:\n", i+1)
		for j, v := range rec {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			col := fmt.Sprintf("column %d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				col = strings.TrimSpace(header[j])
			}
			fmt.Fprintf(&sb, "%s: %s\n", col, v)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
