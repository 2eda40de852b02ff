package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const nominatimEndpoint = "https://nominatim.openstreetmap.org/reverse"

// AreaName reverse-geocodes a point to a short locality name, preferring
// the most specific of the usual address fields. Returns "" when nothing
// matches; that is not an error.
func AreaName(ctx context.Context, lat, lng float64) (string, error) {
	client := &http.Client{Timeout: 20 * time.Second}

	url := fmt.Sprintf("%s?format=jsonv2&lat=%f&lon=%f&addressdetails=1",
		nominatimEndpoint, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "chunkplane")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("nominatim: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var doc struct {
		Address map[string]string `json:"address"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	for _, field := range []string{"city", "town", "village", "county", "borough", "suburb"} {
		name, ok := doc.Address[field]
		if !ok || name == "" {
			continue
		}
		// "City of X" -> "X"
		if strings.HasPrefix(strings.ToLower(name), "city of ") {
			name = name[len("city of "):]
		}
		return name, nil
	}
	return "", nil
}
