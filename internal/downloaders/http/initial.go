package fetchhttp

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/isofetch/internal/utils"
)

type HTTPDownloader struct{}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

func (d *HTTPDownloader) ValidateJob(job *utils.Job) error {
	return ValidateURL(job.URL)
}

func (d *HTTPDownloader) BuildJob(job *utils.Job) error {
	client := utils.NewHTTPClient(job.HTTPClientConfig)
	size, name, err := getFileInfo(job.URL, client)
	if err != nil {
		log.Debug().Str("op", "http/initial").Err(err).Msg("HEAD lookup failed, continuing without file info")
	}
	if name == "" {
		name = utils.FileNameFromURL(job.URL)
	}
	outputPath, err := ResolveOutputPath(job.OutputPath, name, size)
	if err != nil {
		return err
	}
	job.OutputPath = outputPath
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["fileSize"] = size
	return nil
}

func ValidateURL(link string) error {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}
	return nil
}

// ResolveOutputPath picks the destination for a download named name. An
// existing directory, or a path ending in a separator, receives the file; an
// existing file of the same size is refused and any other existing file gets
// a fresh numbered name. Missing directories are created by PerformTransfer.
func ResolveOutputPath(outputPath, name string, remoteSize int64) (string, error) {
	if outputPath == "" {
		outputPath = name
	} else if isDirPath(outputPath) {
		outputPath = filepath.Join(outputPath, name)
	} else if info, err := os.Stat(outputPath); err == nil && info.IsDir() {
		outputPath = filepath.Join(outputPath, name)
	}
	if existing, err := os.Stat(outputPath); err == nil {
		if remoteSize > 0 && existing.Size() == remoteSize {
			return "", fmt.Errorf("%s: %w", outputPath, utils.ErrFileExists)
		}
		outputPath = utils.RenewOutputPath(outputPath)
	}
	return outputPath, nil
}

func isDirPath(p string) bool {
	return strings.HasSuffix(p, "/") || strings.HasSuffix(p, string(os.PathSeparator))
}

func getFileInfo(link string, client utils.HTTPDoer) (int64, string, error) {
	req, err := http.NewRequest(http.MethodHead, link, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, "", fmt.Errorf("server returned error: %d", resp.StatusCode)
	}
	filename := ""
	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				filename = filenameRegex.ReplaceAllString(fn, "_")
			} else if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
				unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
				filename = filenameRegex.ReplaceAllString(unescaped, "_")
			}
		}
	}
	return max(resp.ContentLength, 0), filename, nil
}
