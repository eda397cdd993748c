// package lake builds the song-play star schema as partitioned Parquet files.
//
// Source JSON is read from a [Store] (a directory or an S3 prefix) and the five tables are
// written to another. [LocalEngine] runs the transforms in-process; [EMREngine] submits an
// equivalent Spark SQL job to an EMR cluster.
package lake

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
)

// Default source layouts under the input root.
const (
	SongPattern = "song_data/*/*/*/*.json"
	LogPattern  = "log_data/*/*/*.json"
)

// Engine runs the lake ETL end to end.
type Engine interface {
	Run(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*ETLStats, error)
}

// ETLStats reports what an engine run read and wrote.
type ETLStats struct {
	Engine       string       `json:"engine"`
	Input        string       `json:"input"`
	Output       string       `json:"output"`
	StartedAt    time.Time    `json:"started_at"`
	Duration     string       `json:"duration"`
	FilesFound   int          `json:"files_found"`
	FilesRead    int          `json:"files_read"`
	FilesFailed  int          `json:"files_failed"`
	SongRecords  int          `json:"song_records"`
	LogRecords   int          `json:"log_records"`
	BytesWritten int64        `json:"bytes_written"`
	Tables       []TableStats `json:"tables"`
	StepID       string       `json:"step_id,omitempty"`
}

// Table returns the stats for the named table.
func (s *ETLStats) Table(name string) (TableStats, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableStats{}, false
}

// LocalEngineOpts configures a [LocalEngine].
type LocalEngineOpts struct {
	SongPattern string
	LogPattern  string
	Workers     int
	TempDir     string
	Logger      *log.Logger
}

// LocalEngine reads source JSON concurrently and writes each table through a [ParquetSink].
type LocalEngine struct {
	input       Store
	output      Store
	sink        *ParquetSink
	songPattern string
	logPattern  string
	workers     int
	logger      *log.Logger
}

// NewLocalEngine creates a [LocalEngine] reading from input and writing to output.
func NewLocalEngine(input, output Store, opts LocalEngineOpts) *LocalEngine {
	if opts.SongPattern == "" {
		opts.SongPattern = SongPattern
	}
	if opts.LogPattern == "" {
		opts.LogPattern = LogPattern
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return &LocalEngine{
		input:       input,
		output:      output,
		sink:        NewParquetSink(output, opts.TempDir, opts.Workers, opts.Logger),
		songPattern: opts.SongPattern,
		logPattern:  opts.LogPattern,
		workers:     opts.Workers,
		logger:      opts.Logger,
	}
}

// Run reads songs and logs, then writes songs, artists, users, time and songplays in that order.
//
// Unreadable source files are counted and logged; the run continues without them.
func (e *LocalEngine) Run(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*ETLStats, error) {
	start := time.Now()
	stats := &ETLStats{
		Engine:    "local",
		Input:     e.input.URI(""),
		Output:    e.output.URI(""),
		StartedAt: start.UTC(),
	}

	songKeys, err := e.input.List(ctx, e.songPattern)
	if err != nil {
		return stats, fmt.Errorf("failed to list song data: %w", err)
	}
	logKeys, err := e.input.List(ctx, e.logPattern)
	if err != nil {
		return stats, fmt.Errorf("failed to list log data: %w", err)
	}
	stats.FilesFound = len(songKeys) + len(logKeys)
	e.logger.Info("found source files", "songs", len(songKeys), "logs", len(logKeys))

	counter := &readCounter{total: stats.FilesFound, progress: progress}
	songs := readAll(ctx, e, songKeys, DecodeSongs, counter)
	logs := readAll(ctx, e, logKeys, DecodeLogs, counter)
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	stats.FilesRead = counter.read
	stats.FilesFailed = counter.failed
	stats.SongRecords = len(songs)
	stats.LogRecords = len(logs)

	if counter.failed > 0 {
		e.logger.Warn("some source files failed to read", "failed", counter.failed)
	}

	writers := []func() (TableStats, error){
		func() (TableStats, error) {
			return WriteTable(ctx, e.sink, "songs", SongsTable(songs), songPartition, progress)
		},
		func() (TableStats, error) {
			return WriteTable[ArtistRow](ctx, e.sink, "artists", ArtistsTable(songs), nil, progress)
		},
		func() (TableStats, error) {
			return WriteTable[UserRow](ctx, e.sink, "users", UsersTable(logs), nil, progress)
		},
		func() (TableStats, error) {
			return WriteTable(ctx, e.sink, "time", TimeTable(logs), timePartition, progress)
		},
		func() (TableStats, error) {
			return WriteTable(ctx, e.sink, "songplays", SongplaysTable(logs, songs), songplayPartition, progress)
		},
	}

	for i, write := range writers {
		ts, err := write()
		if err != nil {
			return stats, err
		}
		stats.Tables = append(stats.Tables, ts)
		stats.BytesWritten += ts.Bytes
		tasks.Send(progress, tasks.ProgressUpdate{
			Phase:   tasks.UploadTable,
			Step:    i + 1,
			Total:   len(writers),
			Message: fmt.Sprintf("%s: %d rows in %d files", ts.Name, ts.Rows, ts.Files),
			Data:    ts,
		})
	}

	stats.Duration = time.Since(start).String()
	e.logger.Info("lake etl complete", "duration", stats.Duration, "bytes", stats.BytesWritten)
	return stats, nil
}

type readCounter struct {
	mu       sync.Mutex
	total    int
	read     int
	failed   int
	progress chan<- tasks.ProgressUpdate
}

func (c *readCounter) done(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
	} else {
		c.read++
	}
	tasks.Send(c.progress, tasks.ProgressUpdate{
		Phase:   tasks.ReadSource,
		Step:    c.read + c.failed,
		Total:   c.total,
		Message: fmt.Sprintf("[%d/%d] %s", c.read+c.failed, c.total, key),
	})
}

// readAll decodes every key with a bounded number of concurrent readers.
//
// Records keep key order regardless of completion order.
func readAll[T any](ctx context.Context, e *LocalEngine, keys []string, decode func(io.Reader) ([]T, error), counter *readCounter) []T {
	results := make([][]T, len(keys))
	semaphore := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				return
			}

			records, err := readOne(ctx, e.input, key, decode)
			if err != nil {
				e.logger.Error("failed to read source file", "key", key, "err", err)
			}
			results[i] = records
			counter.done(key, err)
		}(i, key)
	}
	wg.Wait()

	var out []T
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func readOne[T any](ctx context.Context, store Store, key string, decode func(io.Reader) ([]T, error)) ([]T, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	records, err := decode(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return records, nil
}
