// Package batch decodes every ncm container under a directory tree into
// a mirrored output tree.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	crackncm "github.com/Carryma11/crack-ncm"
	"github.com/Carryma11/crack-ncm/container"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const lockFileName = ".crackncm.lock"

type job struct {
	inputPath  string
	outputPath string
}

type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Processor walks a directory tree and decodes the containers it finds
// with a bounded number of workers. Decodes are independent, one failed
// file never stops the others.
type Processor struct {
	Decoder *container.Decoder

	// OutputRoot defaults to <root>/output.
	OutputRoot string

	// Workers defaults to 80% of the CPU count.
	Workers int

	Log crackncm.Logger
}

// Run decodes everything under root and reports per-file counts. The
// output root is locked for the duration of the run so two batches
// cannot interleave on the same tree.
func (p *Processor) Run(ctx context.Context, root string) (*Summary, error) {
	log := p.Log
	if log == nil {
		log = &crackncm.NullLogger{}
	}

	outputRoot := p.OutputRoot
	if outputRoot == "" {
		outputRoot = filepath.Join(root, "output")
	}
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed creating output root: %w", err)
	}

	lock := flock.New(filepath.Join(outputRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed locking output root: %w", err)
	} else if !locked {
		return nil, fmt.Errorf("output root %s is locked by another run", outputRoot)
	}
	defer func() { _ = lock.Unlock() }()

	jobs, err := collectJobs(root, outputRoot, log)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(jobs)}
	if len(jobs) == 0 {
		log.Infof("nothing to convert under %s", root)
		return summary, nil
	}

	workers := p.Workers
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()*4/5)
	}
	log.Infof("converting %d files with %d workers", len(jobs), workers)

	var succeeded, failed atomic.Int64
	var group errgroup.Group
	group.SetLimit(workers)
	for _, j := range jobs {
		j := j
		group.Go(func() error {
			finalPath, err := p.Decoder.DecodeFile(ctx, j.inputPath, j.outputPath)
			if err != nil {
				failed.Add(1)
				log.WithError(err).Errorf("failed converting %s", j.inputPath)
				return nil
			}

			succeeded.Add(1)
			log.Infof("converted %s", finalPath)
			return nil
		})
	}
	_ = group.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	return summary, nil
}

// collectJobs walks root looking for .ncm files that have not been
// converted yet, mirroring the directory structure under outputRoot.
func collectJobs(root, outputRoot string, log crackncm.Logger) ([]job, error) {
	var jobs []job
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// never descend into our own output
			if path == outputRoot {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".ncm") {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}

		outDir := filepath.Join(outputRoot, rel)
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("failed creating output directory: %w", err)
		}

		base := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if converted(outDir, base) {
			log.Debugf("skipping %s: already converted", path)
			return nil
		}

		jobs = append(jobs, job{inputPath: path, outputPath: filepath.Join(outDir, base+".mp3")})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed walking %s: %w", root, err)
	}
	return jobs, nil
}

func converted(outDir, base string) bool {
	for _, ext := range []string{".mp3", ".flac"} {
		if _, err := os.Stat(filepath.Join(outDir, base+ext)); err == nil {
			return true
		}
	}
	return false
}
