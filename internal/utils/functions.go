package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// ParseBandwidth reads limits like "500K", "2.5M" or "1G" (1024 based).
// An empty string means no limit.
func ParseBandwidth(limit string) (int64, error) {
	limit = strings.TrimSpace(strings.ToUpper(limit))
	if limit == "" {
		return 0, nil
	}
	limit = strings.TrimSuffix(limit, "B")
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(limit, "K"):
		multiplier = 1024
	case strings.HasSuffix(limit, "M"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(limit, "G"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		limit = limit[:len(limit)-1]
	}
	value, err := strconv.ParseFloat(limit, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid bandwidth limit: %q", limit)
	}
	return int64(value * float64(multiplier)), nil
}

// FileNameFromURL returns the last path element of a URL, or "download".
func FileNameFromURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i := range entries {
		if entries[i].Type == "" {
			entries[i].Type = "http"
		}
		if entries[i].URL == "" && entries[i].Type == "http" {
			return nil, fmt.Errorf("missing URL for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}
