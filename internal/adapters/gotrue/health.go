package gotrue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ProbeHealth tries each base URL in order and returns the first one whose
// /auth/v1/health endpoint answers 2xx. The errors of every failed candidate are joined.
func ProbeHealth(ctx context.Context, client *http.Client, anonKey string, baseURLs []string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if len(baseURLs) == 0 {
		return "", errors.New("gotrue: no base URLs to probe")
	}

	var errs []error
	for _, base := range baseURLs {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			continue
		}
		if err := probe(ctx, client, anonKey, base); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
			continue
		}
		return base, nil
	}
	return "", errors.Join(append([]error{errors.New("gotrue: no healthy auth endpoint")}, errs...)...)
}

func probe(ctx context.Context, client *http.Client, anonKey, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/auth/v1/health", nil)
	if err != nil {
		return err
	}
	if anonKey != "" {
		req.Header.Set("apikey", anonKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}
