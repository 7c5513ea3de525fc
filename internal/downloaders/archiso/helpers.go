package archiso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/isofetch/internal/utils"
)

const (
	DefaultMirror  = "https://fastly.mirror.pkgbuild.com/iso/latest/"
	listingTimeout = 10 * time.Second
	maxListingSize = 4 * 1024 * 1024
)

var ErrNoISO = errors.New("could not detect ISO filename in mirror listing")

var isoPattern = regexp.MustCompile(`archlinux-\d{4}\.\d{2}\.\d{2}-x86_64\.iso`)

// ResolveLatest fetches the mirror's directory listing and returns the first
// x86_64 ISO name found in it, along with its full download URL.
func ResolveLatest(ctx context.Context, client utils.HTTPDoer, mirror string) (string, string, error) {
	if mirror == "" {
		mirror = DefaultMirror
	}
	if !strings.HasSuffix(mirror, "/") {
		mirror += "/"
	}
	log.Info().Str("op", "archiso/resolve").Msgf("Fetching ISO listing from %s", mirror)

	ctx, cancel := context.WithTimeout(ctx, listingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror, nil)
	if err != nil {
		return "", "", fmt.Errorf("error creating listing request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch ISO listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("failed to fetch ISO listing: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingSize))
	if err != nil {
		return "", "", fmt.Errorf("failed to read listing body: %w", err)
	}

	name := isoPattern.FindString(string(body))
	if name == "" {
		return "", "", ErrNoISO
	}
	downloadURL := mirror + name
	log.Info().Str("op", "archiso/resolve").Msgf("Found ISO: %s at %s", name, downloadURL)
	return name, downloadURL, nil
}
