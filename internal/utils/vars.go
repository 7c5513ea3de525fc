package utils

import (
	"errors"
	"time"
)

const (
	ToolUserAgent         = "isofetch/1.0"
	DefaultConnectTimeout = 30 * time.Second
	SocketBufferSize      = 1024 * 1024
)

var (
	ErrFileExists     = errors.New("file already exists with same size")
	ErrUnknownJobType = errors.New("unknown job type")
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"curl/8.5.0",
	"Wget/1.21.4",
}
