package lake

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// TableStats describes one written table.
type TableStats struct {
	Name  string `json:"name"`
	Rows  int    `json:"rows"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// ParquetSink writes table rows as Snappy-compressed Parquet files into a [Store].
//
// Files are staged in a local temp directory and then uploaded.
type ParquetSink struct {
	out      Store
	tempDir  string
	parallel int64
	logger   *log.Logger
}

// NewParquetSink creates a sink writing to out. tempDir may be empty to use the OS default.
func NewParquetSink(out Store, tempDir string, parallel int, logger *log.Logger) *ParquetSink {
	if parallel < 1 {
		parallel = 1
	}
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &ParquetSink{out: out, tempDir: tempDir, parallel: int64(parallel), logger: logger}
}

// WriteTable writes rows under table/, one part file per partition.
//
// partition may be nil for an unpartitioned table. A table with no rows writes no files.
func WriteTable[T any](ctx context.Context, sink *ParquetSink, table string, rows []T, partition func(T) string, progress chan<- tasks.ProgressUpdate) (TableStats, error) {
	stats := TableStats{Name: table, Rows: len(rows)}

	groups := make(map[string][]T)
	for _, r := range rows {
		key := ""
		if partition != nil {
			key = partition(r)
		}
		groups[key] = append(groups[key], r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, part := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		key := path.Join(table, part, "part-00000.parquet")
		tasks.Send(progress, tasks.ProgressUpdate{
			Phase:   tasks.WriteTable,
			Step:    i + 1,
			Total:   len(keys),
			Message: fmt.Sprintf("[%d/%d] %s", i+1, len(keys), key),
			Data:    table,
		})

		size, err := writeParquet(ctx, sink, key, groups[part])
		if err != nil {
			return stats, fmt.Errorf("failed to write %s: %w", key, err)
		}
		stats.Files++
		stats.Bytes += size
	}

	sink.logger.Info("wrote table", "table", table, "rows", stats.Rows, "files", stats.Files)
	return stats, nil
}

func writeParquet[T any](ctx context.Context, sink *ParquetSink, key string, rows []T) (int64, error) {
	tmp, err := os.CreateTemp(sink.tempDir, "dwh-*.parquet")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	fw, err := local.NewLocalFileWriter(tmpName)
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(T), sink.parallel)
	if err != nil {
		fw.Close()
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			pw.WriteStop()
			fw.Close()
			return 0, fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return 0, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet file: %w", err)
	}

	f, err := os.Open(tmpName)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := sink.out.Put(ctx, filepath.ToSlash(key), f); err != nil {
		return 0, err
	}
	sink.logger.Debug("uploaded parquet file", "uri", sink.out.URI(key), "rows", len(rows), "bytes", info.Size())
	return info.Size(), nil
}
