// Package export converts records files into columnar formats for
// training loaders.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/cognicore/korpus/pkg/korpus/internalerr"
	"github.com/cognicore/korpus/pkg/korpus/layout"
	"github.com/cognicore/korpus/pkg/korpus/record"
)

// ParquetFile is the conventional name of an exported records file.
const ParquetFile = "records.parquet"

const batchSize = 1024

// Row is the parquet schema of one record.
type Row struct {
	ID     string `parquet:"id"`
	Text   string `parquet:"text"`
	Source string `parquet:"source,dict"`
}

// Result summarizes an export.
type Result struct {
	Path string
	Rows int
}

// ToParquet streams the records file src into a zstd-compressed parquet
// file at dst. dst appears only once fully written.
func ToParquet(ctx context.Context, src, dst string) (*Result, error) {
	in, err := record.OpenFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: records %s", internalerr.ErrNotFound, src)
		}
		return nil, err
	}
	defer in.Close()

	out, err := layout.CreateAtomic(dst)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: dst}
	if err := writeRows(ctx, in, out, res); err != nil {
		out.Abort()
		return nil, err
	}
	if err := out.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func writeRows(ctx context.Context, in io.Reader, out *layout.AtomicFile, res *Result) error {
	w := parquet.NewGenericWriter[Row](out, parquet.Compression(&parquet.Zstd))

	batch := make([]Row, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.Write(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		res.Rows += len(batch)
		batch = batch[:0]
		return ctx.Err()
	}

	rd := record.NewReader(in)
	for rd.Next() {
		r := rd.Record()
		batch = append(batch, Row{ID: r.ID, Text: r.Text, Source: r.Source})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rd.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
