package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/artpar/meterbill/config"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

const baseYAML = `
logging:
  level: info
auth:
  tokens:
    - token: "tok-1"
      user_id: "u1"
      tenants:
        - id: "t1"
          roles: ["admin"]
`

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// newHolder writes content to a fresh file and returns a holder on it with
// metrics attached.
func newHolder(t *testing.T, content string) (*config.Holder, *metrics.Collector, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meterbill.yaml")
	rewrite(t, path, content)

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	t.Cleanup(h.Stop)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	h.SetMetrics(m)
	return h, m, path
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewHolder(t *testing.T) {
	h, _, _ := newHolder(t, baseYAML)

	if got := h.Get(); got == nil || got.Logging.Level != "info" {
		t.Fatalf("Get = %+v", got)
	}
	if !filepath.IsAbs(h.Path()) {
		t.Errorf("Path = %s, want absolute", h.Path())
	}

	if _, err := config.NewHolder(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop()); err == nil {
		t.Error("NewHolder on a missing file should fail")
	}
}

func TestHolder_Reload(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantErr    bool
		wantLevel  string
		wantTokens int
		reloads    float64
		failures   float64
	}{
		{
			name:       "token added",
			content:    baseYAML + "    - token: tok-2\n      user_id: u2\n",
			wantLevel:  "info",
			wantTokens: 2,
			reloads:    1,
		},
		{
			name:       "level changed",
			content:    strings.Replace(baseYAML, "level: info", "level: debug", 1),
			wantLevel:  "debug",
			wantTokens: 1,
			reloads:    1,
		},
		{
			name:       "invalid keeps current",
			content:    "sources:\n  mode: remote\n",
			wantErr:    true,
			wantLevel:  "info",
			wantTokens: 1,
			failures:   1,
		},
		{
			name:       "syntax error keeps current",
			content:    "logging: [",
			wantErr:    true,
			wantLevel:  "info",
			wantTokens: 1,
			failures:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m, path := newHolder(t, baseYAML)

			var mu sync.Mutex
			var seen []*config.Config
			h.OnChange(func(c *config.Config) {
				mu.Lock()
				seen = append(seen, c)
				mu.Unlock()
			})

			rewrite(t, path, tt.content)
			err := h.Reload()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reload err = %v, wantErr %v", err, tt.wantErr)
			}

			cur := h.Get()
			if cur.Logging.Level != tt.wantLevel || len(cur.Auth.Tokens) != tt.wantTokens {
				t.Errorf("config level=%s tokens=%d, want %s/%d", cur.Logging.Level, len(cur.Auth.Tokens), tt.wantLevel, tt.wantTokens)
			}
			if got := counterValue(t, m.ConfigReloads); got != tt.reloads {
				t.Errorf("reloads = %v, want %v", got, tt.reloads)
			}
			if got := counterValue(t, m.ConfigReloadErrors); got != tt.failures {
				t.Errorf("reload failures = %v, want %v", got, tt.failures)
			}

			mu.Lock()
			defer mu.Unlock()
			if tt.wantErr && len(seen) != 0 {
				t.Error("listeners called for a failed reload")
			}
			if !tt.wantErr && (len(seen) != 1 || seen[0] != cur) {
				t.Errorf("listeners got %d configs, want the new one once", len(seen))
			}
		})
	}
}

func TestHolder_WatchFile(t *testing.T) {
	h, m, path := newHolder(t, baseYAML)
	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	for _, level := range []string{"debug", "error", "debug", "error", "warn"} {
		rewrite(t, path, strings.Replace(baseYAML, "level: info", "level: "+level, 1))
	}

	eventually(t, "file reload", func() bool { return h.Get().Logging.Level == "warn" })

	// Let any trailing debounce window close.
	time.Sleep(300 * time.Millisecond)
	if got := counterValue(t, m.ConfigReloads); got < 1 || got >= 5 {
		t.Errorf("reloads = %v, want a burst of writes collapsed", got)
	}
}

func TestHolder_WatchFile_IgnoresOtherFiles(t *testing.T) {
	h, m, path := newHolder(t, baseYAML)
	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	rewrite(t, filepath.Join(filepath.Dir(path), "other.yaml"), "x: 1\n")
	time.Sleep(300 * time.Millisecond)

	if got := counterValue(t, m.ConfigReloads) + counterValue(t, m.ConfigReloadErrors); got != 0 {
		t.Errorf("reload attempts = %v, want 0", got)
	}
}

func TestHolder_WatchSignals(t *testing.T) {
	h, _, path := newHolder(t, baseYAML)
	h.WatchSignals()

	rewrite(t, path, strings.Replace(baseYAML, "level: info", "level: error", 1))
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("send SIGHUP: %v", err)
	}

	eventually(t, "SIGHUP reload", func() bool { return h.Get().Logging.Level == "error" })
}

func TestHolder_StopTwice(t *testing.T) {
	h, _, _ := newHolder(t, baseYAML)
	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	h.WatchSignals()
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h, m, _ := newHolder(t, baseYAML)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()

	if got := counterValue(t, m.ConfigReloads); got != 5 {
		t.Errorf("reloads = %v, want 5", got)
	}
}

func TestRestartRequired(t *testing.T) {
	base := func() *config.Config {
		cfg, err := config.Parse([]byte(baseYAML))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		modify func(c *config.Config)
		want   []string
	}{
		{"no change", func(c *config.Config) {}, nil},
		{"reloadable only", func(c *config.Config) { c.Logging.Level = "debug"; c.Auth.Tokens = nil }, nil},
		{"port", func(c *config.Config) { c.Server.Port = 9999 }, []string{"server.port"}},
		{"pricing headers", func(c *config.Config) {
			c.Sources.Pricing.Headers = map[string]string{"X": "y"}
		}, []string{"sources.pricing"}},
		{"rating", func(c *config.Config) {
			c.Rating.Concurrency = 1
			c.Rating.InvalidUnitPolicy = config.PolicyFail
		}, []string{"rating.concurrency", "rating.invalid_unit_policy"}},
		{"metrics", func(c *config.Config) { c.Metrics.Enabled = true }, []string{"metrics.enabled"}},
		{"tracing", func(c *config.Config) { c.Tracing.SampleRatio = 0.5 }, []string{"tracing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev, next := base(), base()
			tt.modify(next)

			got := config.RestartRequired(prev, next)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("RestartRequired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReloadableFields(t *testing.T) {
	restart := make(map[string]bool)
	for _, f := range config.NonReloadableFields() {
		restart[f] = true
	}
	for _, f := range config.ReloadableFields() {
		if restart[f] {
			t.Errorf("%s is both reloadable and non-reloadable", f)
		}
	}
	for _, want := range []string{"server.port", "sources.mode", "database.dsn"} {
		if !restart[want] {
			t.Errorf("%s not in NonReloadableFields", want)
		}
	}
}
