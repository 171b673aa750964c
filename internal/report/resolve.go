package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the aggregation queries in flight per report.
const DefaultConcurrency = 8

// resolveAll runs fn once per key with at most limit calls in flight and
// collects the results. The first error cancels the rest.
func resolveAll[T any](ctx context.Context, keys []string, limit int, fn func(ctx context.Context, key string) (T, error)) (map[string]T, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	values := make([]T, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			v, err := fn(gctx, key)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]T, len(keys))
	for i, key := range keys {
		out[key] = values[i]
	}
	return out, nil
}

// WriteJSON writes v as indented JSON to path, creating parent directories.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("WriteJSON: encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("WriteJSON: creating directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("WriteJSON: writing %s: %w", path, err)
	}
	return nil
}
