package soho

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultBaseURL is the CDAWeb public archive root for SOHO data.
const DefaultBaseURL = "https://cdaweb.gsfc.nasa.gov/pub/data/soho"

// Provider turns a dataset descriptor and a date range into a set of local
// file paths, fetching remote artifacts as needed. The call blocks until
// every file is either present locally or known to be unavailable; any
// internal fetch parallelism (bounded by maxConn) completes before it
// returns.
type Provider interface {
	Fetch(ctx context.Context, desc Descriptor, start, end time.Time, path string, maxConn int) ([]string, error)
}

// HTTPProvider downloads daily or yearly archive files over HTTP(S) into a
// local cache directory, skipping files already present and removing
// zero-byte leftovers from interrupted runs.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProvider returns a provider aimed at the CDAWeb SOHO archive.
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Fetch downloads the files covering [start, end) with at most maxConn
// parallel connections and returns the sorted local paths. Days (or years)
// whose files do not exist upstream are skipped; a fetch that yields no
// usable files and at least one transport failure reports an error.
func (p *HTTPProvider) Fetch(ctx context.Context, desc Descriptor, start, end time.Time, path string, maxConn int) ([]string, error) {
	destDir := path
	if destDir == "" {
		destDir = defaultDataDir()
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if maxConn <= 0 {
		maxConn = 1
	}

	jobs := fileJobs(desc, start, end)

	var (
		mu       sync.Mutex
		paths    []string
		failures int
		wg       sync.WaitGroup
		sem      = make(chan struct{}, maxConn)
	)

	for _, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func(names []string) {
			defer func() { <-sem }()
			defer wg.Done()

			local, err := p.fetchOne(ctx, desc, names, destDir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				log.Printf("fetch %s: %v", names[0], err)
				return
			}
			if local != "" {
				paths = append(paths, local)
			}
		}(job)
	}
	wg.Wait()

	if len(paths) == 0 && failures > 0 {
		return nil, fmt.Errorf("no %s files retrievable for %s - %s",
			desc.ID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	sort.Strings(paths)
	return paths, nil
}

// fileJobs enumerates the candidate file-name sets for every day or year in
// [start, end).
func fileJobs(desc Descriptor, start, end time.Time) [][]string {
	var jobs [][]string
	if desc.Files == Yearly {
		for y := start.Year(); y <= end.Add(-time.Nanosecond).Year(); y++ {
			jobs = append(jobs, desc.fileNames(time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)))
		}
		return jobs
	}
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(end) {
		jobs = append(jobs, desc.fileNames(day))
		day = day.AddDate(0, 0, 1)
	}
	return jobs
}

// fetchOne ensures one day's (or year's) file is on disk, trying each
// candidate name in order. Returns "" when the file does not exist upstream.
func (p *HTTPProvider) fetchOne(ctx context.Context, desc Descriptor, names []string, destDir string) (string, error) {
	for _, name := range names {
		dest := filepath.Join(destDir, name)
		if info, err := os.Stat(dest); err == nil {
			if info.Size() > 0 {
				return dest, nil
			}
			os.Remove(dest) // zero-byte leftover from an interrupted download
		}
	}

	var lastErr error
	for _, name := range names {
		dest := filepath.Join(destDir, name)
		url := p.urlFor(desc, name)
		found, err := p.download(ctx, url, dest)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			return dest, nil
		}
	}
	return "", lastErr
}

func (p *HTTPProvider) urlFor(desc Descriptor, name string) string {
	base := p.BaseURL
	if desc.baseURL != "" {
		base = desc.baseURL
	}
	year, err := yearFromPath(name)
	if err == nil && desc.dirPattern != "" {
		return fmt.Sprintf("%s/%s/%s", base, desc.remoteDir(year), name)
	}
	return fmt.Sprintf("%s/%s", base, name)
}

// download fetches url into dest via a temp file and atomic rename. The
// bool result reports whether the remote file exists.
func (p *HTTPProvider) download(ctx context.Context, url, dest string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return false, fmt.Errorf("create file failed: %w", err)
	}
	_, err = io.Copy(f, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("download failed: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("rename failed: %w", err)
	}
	return true, nil
}

// defaultDataDir is the local cache for downloaded archive files.
func defaultDataDir() string {
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "sohodata")
	}
	return "data"
}
