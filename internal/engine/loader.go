package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DataFile  = "owid-covid-data.csv"
	SourceURL = "https://ourworldindata.org/covid-cases"
)

// ErrDataMissing is returned by Load when the dataset file does not exist.
var ErrDataMissing = errors.New("data file missing")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ResolveDataPath maps the location of the running program to the dataset
// path: two levels up from programPath, then data/raw/owid-covid-data.csv.
func ResolveDataPath(programPath string) string {
	abs, err := filepath.Abs(programPath)
	if err != nil {
		abs = filepath.Clean(programPath)
	}
	return DataPathUnder(filepath.Dir(filepath.Dir(abs)))
}

// DataPathUnder returns the dataset path below a project root.
func DataPathUnder(root string) string {
	return filepath.Join(root, "data", "raw", DataFile)
}

// DefaultDataPath resolves the dataset path from the current executable.
func DefaultDataPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve data path: %w", err)
	}
	return ResolveDataPath(exe), nil
}

type Loader struct {
	Workers int
	Logger  *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Workers: runtime.NumCPU(), Logger: logger}
}

// Load reads the CSV at path into a Table. Body rows are parsed in parallel,
// one record-aligned chunk per worker, and reassembled in file order.
func (l *Loader) Load(ctx context.Context, path string) (*Table, error) {
	start := time.Now()
	l.Logger.Debug("Loading data", zap.String("path", path), zap.Int("workers", l.Workers))

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %q: %w: %w", path, ErrDataMissing, err)
		}
		return nil, fmt.Errorf("load %q: %w", path, err)
	}

	tbl, err := l.parse(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}

	l.Logger.Info("Load complete",
		zap.Int("rows", len(tbl.Rows)),
		zap.Int("columns", len(tbl.Header)),
		zap.Duration("took", time.Since(start)))
	return tbl, nil
}

func (l *Loader) parse(ctx context.Context, content []byte) (*Table, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	// A. Header
	split := recordEnd(content, 0, false)
	headLine, body := content[:split], content[split:]
	header, err := csv.NewReader(bytes.NewReader(headLine)).Read()
	if err == io.EOF {
		return nil, errors.New("empty file: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	// B. Parallel Parsing
	spans := chunkSpans(body, l.Workers)
	parts := make([][][]string, len(spans))

	g, ctx := errgroup.WithContext(ctx)
	for i, sp := range spans {
		g.Go(func() error {
			r := csv.NewReader(bytes.NewReader(body[sp.start:sp.end]))
			r.FieldsPerRecord = len(header)
			var rows [][]string
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec, err := r.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("parse chunk %d: %w", i, err)
				}
				rows = append(rows, rec)
			}
			parts[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// C. Merge in chunk order
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	tbl := &Table{Header: header, Rows: make([][]string, 0, total)}
	for _, p := range parts {
		tbl.Rows = append(tbl.Rows, p...)
	}
	return tbl, nil
}

type span struct{ start, end int }

// minChunk keeps small inputs on a single worker.
const minChunk = 64 << 10

// chunkSpans splits content into at most workers spans. Every boundary sits
// just after a newline that is outside a quoted field, so each span holds
// whole records.
func chunkSpans(content []byte, workers int) []span {
	if workers < 1 || len(content) < workers*minChunk {
		workers = 1
	}
	size := len(content) / workers

	spans := make([]span, 0, workers)
	start := 0
	for i := 1; i < workers && start < len(content); i++ {
		target := i * size
		if target <= start {
			continue
		}
		// Spans start outside quotes, so the parity of '"' up to target
		// says whether target is inside a quoted field.
		quoted := bytes.Count(content[start:target], []byte{'"'})%2 == 1
		end := recordEnd(content, target, quoted)
		spans = append(spans, span{start, end})
		start = end
	}
	if start < len(content) {
		spans = append(spans, span{start, len(content)})
	}
	return spans
}

// recordEnd returns the offset just past the first newline at or after pos
// that is outside quotes, or len(content). quoted is the state at pos.
func recordEnd(content []byte, pos int, quoted bool) int {
	for i := pos; i < len(content); i++ {
		switch content[i] {
		case '"':
			quoted = !quoted
		case '\n':
			if !quoted {
				return i + 1
			}
		}
	}
	return len(content)
}
