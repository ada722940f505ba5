// Package breach checks passwords against a compromised-password corpus
// using k-anonymity range lookups: only the first five hex characters of the
// SHA-1 fingerprint ever leave the process.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gatehouse-dev/gatehouse/internal/logger"
)

const DefaultTimeout = 1000 * time.Millisecond

type Checker struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// hashParts splits the uppercased SHA-1 hex of the password into the
// 5-character range prefix and the remaining suffix.
func hashParts(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password))
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return h[:5], h[5:]
}

// IsCommonPassword reports whether the password appears in the breach corpus.
// The check is advisory: timeouts, non-2xx responses and transport errors all
// resolve to false so an unavailable corpus never blocks signup or reset.
func (c *Checker) IsCommonPassword(ctx context.Context, password string) bool {
	prefix, suffix := hashParts(password)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/range/%s", c.baseURL, prefix), nil)
	if err != nil {
		logger.Log.Warn("breach check request build failed", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Log.Warn("breach check unavailable", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Log.Warn("breach check returned unexpected status", "status", resp.StatusCode)
		return false
	}

	// Response is newline-delimited "<35-hex-suffix>:<count>" lines.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		got, _, found := strings.Cut(line, ":")
		if found && strings.EqualFold(strings.TrimSpace(got), suffix) {
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Log.Warn("breach check read failed", "error", err)
	}
	return false
}
