package build

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
)

// ContextFile is one file of the build context, with its content digest.
type ContextFile struct {
	Rel    string
	Size   int64
	Mode   fs.FileMode
	Digest digest.Digest
}

// Concurrency structures
type scanJob struct {
	FullPath string
	Rel      string
}

type scanResult struct {
	File ContextFile
	Err  error
}

// ScanContext walks the build context with a worker pool hashing every
// regular file, and returns the files sorted by path so the resulting tree
// digest is deterministic. Paths under any of the skip roots (absolute) are
// left out; everything else is included wholesale.
func ScanContext(root string, skip []string) ([]ContextFile, error) {
	jobs := make(chan scanJob, 100)
	results := make(chan scanResult, 100)

	var wg sync.WaitGroup

	// 1. Worker Pool (4 workers)
	numWorkers := 4
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				f, err := hashFile(job)
				results <- scanResult{File: f, Err: err}
			}
		}()
	}

	// 2. Walker (Producer)
	var walkErr error
	go func() {
		defer close(jobs)
		walkErr = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if skipped(path, skip) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			jobs <- scanJob{FullPath: path, Rel: filepath.ToSlash(rel)}
			return nil
		})
	}()

	// 3. Closer Goroutine
	go func() {
		wg.Wait()
		close(results)
	}()

	// 4. Consumer
	var files []ContextFile
	for res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		files = append(files, res.File)
	}
	if walkErr != nil {
		return nil, fmt.Errorf("walk context: %w", walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

func hashFile(job scanJob) (ContextFile, error) {
	f, err := os.Open(job.FullPath)
	if err != nil {
		return ContextFile{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ContextFile{}, err
	}

	dgst, err := digest.FromReader(f)
	if err != nil {
		return ContextFile{}, fmt.Errorf("hash %s: %w", job.Rel, err)
	}

	return ContextFile{
		Rel:    job.Rel,
		Size:   info.Size(),
		Mode:   info.Mode(),
		Digest: dgst,
	}, nil
}

func skipped(path string, skip []string) bool {
	for _, s := range skip {
		if s == "" {
			continue
		}
		if path == s || strings.HasPrefix(path, s+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// TreeDigest folds the scanned files into a single digest. Any content,
// mode, or path change anywhere in the context changes it; nothing else
// does.
func TreeDigest(files []ContextFile) digest.Digest {
	h := digest.Canonical.Digester()
	for _, f := range files {
		fmt.Fprintf(h.Hash(), "%s %s %o\n", f.Rel, f.Digest, f.Mode)
	}
	return h.Digest()
}
