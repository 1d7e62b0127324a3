package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultOUIURL = "https://standards-oui.ieee.org/oui/oui.txt"

var ErrRefreshThrottled = errors.New("mac vendor refresh throttled")

// OUITable maps the first three octets of a MAC address to its vendor.
type OUITable struct {
	log     zerolog.Logger
	path    string
	url     string
	client  *http.Client
	limiter *rate.Limiter

	mu      sync.RWMutex
	vendors map[string]string
}

type OUIOptions struct {
	Path          string
	URL           string
	Timeout       time.Duration
	RefreshEvery  time.Duration
	RefreshBurst  int
	HTTPTransport http.RoundTripper
}

func NewOUITable(log zerolog.Logger, opts OUIOptions) *OUITable {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = DefaultOUIURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	every := opts.RefreshEvery
	if every <= 0 {
		every = time.Minute
	}
	burst := opts.RefreshBurst
	if burst <= 0 {
		burst = 1
	}
	return &OUITable{
		log:     log.With().Str("component", "oui").Logger(),
		path:    strings.TrimSpace(opts.Path),
		url:     url,
		client:  &http.Client{Timeout: timeout, Transport: opts.HTTPTransport},
		limiter: rate.NewLimiter(rate.Every(every), burst),
		vendors: map[string]string{},
	}
}

// Load reads the on-disk table. A missing file leaves the table empty.
func (t *OUITable) Load() error {
	if t.path == "" {
		return nil
	}
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.log.Info().Str("path", t.path).Msg("mac vendor file not present; vendor lookup disabled until refresh")
			return nil
		}
		return err
	}
	defer f.Close()

	vendors, err := ParseOUI(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", t.path, err)
	}
	t.swap(vendors)
	t.log.Info().Str("path", t.path).Int("vendors", len(vendors)).Msg("mac vendor table loaded")
	return nil
}

func (t *OUITable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vendors)
}

func (t *OUITable) Lookup(mac string) string {
	if t == nil {
		return ""
	}
	key := ouiKey(mac)
	if key == "" {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vendors[key]
}

// Refresh downloads the registry, persists it, and swaps the in-memory table.
func (t *OUITable) Refresh(ctx context.Context) error {
	if !t.limiter.Allow() {
		return ErrRefreshThrottled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("download mac vendor table: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download mac vendor table: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read mac vendor table: %w", err)
	}
	vendors, err := ParseOUI(bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(vendors) == 0 {
		return fmt.Errorf("mac vendor table from %s has no entries", t.url)
	}

	if t.path != "" {
		if err := writeFileAtomic(t.path, body); err != nil {
			return fmt.Errorf("persist mac vendor table: %w", err)
		}
	}
	t.swap(vendors)
	t.log.Info().Int("vendors", len(vendors)).Str("url", t.url).Msg("mac vendor table refreshed")
	return nil
}

func (t *OUITable) swap(vendors map[string]string) {
	t.mu.Lock()
	t.vendors = vendors
	t.mu.Unlock()
}

// ParseOUI reads the IEEE registry format, keeping only "XX-XX-XX   (hex)" lines.
func ParseOUI(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, "(hex)")
		if idx < 0 {
			continue
		}
		key := ouiKey(strings.TrimSpace(line[:idx]))
		vendor := strings.TrimSpace(line[idx+len("(hex)"):])
		if key == "" || vendor == "" {
			continue
		}
		out[key] = vendor
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ouiKey returns "AABBCC" for any common MAC or prefix notation.
func ouiKey(mac string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(mac) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			b.WriteRune(r)
		case r == ':' || r == '-' || r == '.':
		default:
			return ""
		}
		if b.Len() == 6 {
			return b.String()
		}
	}
	return ""
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".oui-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
