package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/tabwriter"
	"time"

	"github.com/artpar/meterbill/domain/period"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const planYAML = `
id: basic
display_name: Basic
pricing_menus:
  - display_name: Standard
    units:
      - type: fixed
        display_name: Base fee
        unit_amount: 1000
        recurring_interval: month
      - type: usage
        display_name: API calls
        metering_unit_name: api_calls
        unit_amount: 2
`

const datasetYAML = `
plans:
  - id: basic
    display_name: Basic
    pricing_menus:
      - display_name: Standard
        units:
          - type: fixed
            display_name: Base fee
            unit_amount: 1000
tax_rates:
  - id: jp10
    display_name: Consumption tax
    percentage: 10
    inclusive: false
tenants:
  - id: t1
    name: Acme
    plan_id: basic
    current_plan_period_end: %d
    plan_histories:
      - plan_id: basic
        plan_applied_at: %d
        tax_rate_id: jp10
`

// useWorkspace points the global flags at a fresh local config.
func useWorkspace(t *testing.T) string {
	t.Helper()
	prevLevel := zerolog.GlobalLevel()
	prevCfg, prevOut := cfgFile, outputFormat
	t.Cleanup(func() {
		cfgFile, outputFormat = prevCfg, prevOut
		zerolog.SetGlobalLevel(prevLevel)
	})

	dir := t.TempDir()
	cfgFile = filepath.Join(dir, "meterbill.yaml")
	outputFormat = "json"
	writeFile(t, cfgFile, fmt.Sprintf("database:\n  dsn: %s\nlogging:\n  level: error\n", filepath.Join(dir, "meterbill.db")))
	return dir
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func run(t *testing.T, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	err := fn(cmd, args)
	return out.String(), err
}

func jstDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, period.JST)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"1704034800", time.Unix(1704034800, 0), false},
		{"2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024-01-01", jstDay(2024, 1, 1), false},
		{"01/01/2024", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	prev := outputFormat
	defer func() { outputFormat = prev }()

	v := wire.Segment{Label: "jan", PlanID: "basic", Start: 1, End: 2}
	table := func(w *tabwriter.Writer) { fmt.Fprintln(w, "LABEL\tPLAN") }

	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{"json", `"plan_id": "basic"`, false},
		{"yaml", "plan_id: basic", false},
		{"table", "LABEL  PLAN", false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			outputFormat = tt.format
			var buf bytes.Buffer
			err := render(&buf, v, table)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestReadPlanFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		data    string
		wantErr string
	}{
		{"yaml", "basic.yaml", planYAML, ""},
		{"json", "basic.json", `{"id":"basic","display_name":"Basic","pricing_menus":[{"display_name":"Standard","units":[{"type":"fixed","display_name":"Base fee","unit_amount":"1000"}]}]}`, ""},
		{"missing id", "noid.yaml", "display_name: X\npricing_menus: []\n", "plan id is required"},
		{"unknown unit", "bad.yaml", "id: x\npricing_menus:\n  - units:\n      - type: bogus\n", "unknown unit type"},
		{"syntax", "broken.yaml", "id: [", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.data)

			p, err := readPlanFile(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readPlanFile: %v", err)
			}
			if p.ID != "basic" || len(p.Menus) != 1 {
				t.Errorf("plan = %+v", p)
			}
		})
	}
}

func TestPlansImportAndList(t *testing.T) {
	dir := useWorkspace(t)
	planPath := filepath.Join(dir, "basic.yaml")
	writeFile(t, planPath, planYAML)

	out, err := run(t, runPlansImport, planPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported plan basic") {
		t.Errorf("import output = %q", out)
	}

	out, err = run(t, runPlansList)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var plans []wire.Plan
	if err := json.Unmarshal([]byte(out), &plans); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out)
	}
	if len(plans) != 1 || plans[0].ID != "basic" || len(plans[0].PricingMenus[0].Units) != 2 {
		t.Errorf("plans = %+v", plans)
	}

	out, err = run(t, runPlansGet, "basic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, `"metering_unit_name": "api_calls"`) {
		t.Errorf("get output = %q", out)
	}

	if _, err := run(t, runPlansGet, "missing"); err == nil {
		t.Error("get of an unknown plan should fail")
	}
}

func TestImportRateAndPeriods(t *testing.T) {
	dir := useWorkspace(t)
	start := jstDay(2024, 1, 1)
	end := jstDay(2024, 3, 1).Add(-time.Second)

	dsPath := filepath.Join(dir, "seed.yaml")
	writeFile(t, dsPath, fmt.Sprintf(datasetYAML, end.Unix(), start.Unix()))

	out, err := run(t, runImport, dsPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 plans, 1 tax rates, 1 tenants") {
		t.Errorf("import output = %q", out)
	}

	rateTenant, ratePlanID, ratePlanFile = "t1", "basic", ""
	rateStart, rateEnd = "2024-01-01", fmt.Sprint(jstDay(2024, 2, 1).Unix()-1)
	out, err = run(t, runRate)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	var result wire.RatingResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode rate output: %v\n%s", err, out)
	}
	if len(result.Totals) != 1 || result.Totals[0].Currency != "JPY" || result.Totals[0].TotalAmount.Decimal().IntPart() != 1000 {
		t.Errorf("totals = %+v", result.Totals)
	}

	out, err = run(t, runPeriods, "t1")
	if err != nil {
		t.Fatalf("periods: %v", err)
	}
	var segs []wire.Segment
	if err := json.Unmarshal([]byte(out), &segs); err != nil {
		t.Fatalf("decode periods output: %v\n%s", err, out)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d periods, want 2", len(segs))
	}
	if segs[0].End != end.Unix() || segs[1].Start != start.Unix() {
		t.Errorf("periods = %+v", segs)
	}
}

func TestRate_PlanFile(t *testing.T) {
	dir := useWorkspace(t)
	planPath := filepath.Join(dir, "draft.yaml")
	writeFile(t, planPath, planYAML)
	outputFormat = "table"

	rateTenant, ratePlanID, ratePlanFile = "t9", "", planPath
	rateStart, rateEnd = "2024-01-01", "2024-01-31"
	out, err := run(t, runRate)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	for _, want := range []string{"Base fee", "api_calls", "JPY", "1000"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate(t *testing.T) {
	dir := useWorkspace(t)
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, good, planYAML)
	writeFile(t, bad, "id: x\npricing_menus:\n  - units:\n      - type: bogus\n")

	out, err := run(t, runValidate, good)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Validation passed") || !strings.Contains(out, "monthly periods") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, runValidate, good, bad)
	if err == nil {
		t.Fatalf("validate with a bad plan should fail:\n%s", out)
	}
	if !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("err = %v", err)
	}

	writeFile(t, cfgFile, "sources:\n  mode: remote\n")
	if _, err := run(t, runValidate); err == nil {
		t.Error("remote mode without URLs should fail validation")
	}
}

func TestImport_RequiresLocal(t *testing.T) {
	dir := useWorkspace(t)
	writeFile(t, cfgFile, "sources:\n  mode: remote\n  pricing:\n    url: http://127.0.0.1:1\n  auth:\n    url: http://127.0.0.1:1\nlogging:\n  level: error\n")
	planPath := filepath.Join(dir, "basic.yaml")
	writeFile(t, planPath, planYAML)

	_, err := run(t, runPlansImport, planPath)
	if err == nil || !strings.Contains(err.Error(), "sources.mode=local") {
		t.Errorf("err = %v, want local mode error", err)
	}
}

func TestTokenHash(t *testing.T) {
	prev := tokenHashCost
	tokenHashCost = bcrypt.MinCost
	defer func() { tokenHashCost = prev }()

	out, err := run(t, runTokenHash, "s3cret")
	if err != nil {
		t.Fatalf("token hash: %v", err)
	}
	hash := strings.TrimSpace(out)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")) != nil {
		t.Errorf("output %q is not a hash of the token", hash)
	}

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetIn(strings.NewReader("from-stdin\n"))
	if err := runTokenHash(cmd, nil); err != nil {
		t.Fatalf("token hash from stdin: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(buf.String())), []byte("from-stdin")) != nil {
		t.Errorf("stdin hash mismatch: %q", buf.String())
	}

	cmd.SetIn(strings.NewReader(""))
	if err := runTokenHash(cmd, nil); err == nil {
		t.Error("empty stdin should fail")
	}
}

func TestVersion(t *testing.T) {
	prev := outputFormat
	defer func() { outputFormat = prev }()
	outputFormat = "json"

	out, err := run(t, versionCmd.RunE)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v versionInfo
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v.Version != version || !strings.HasPrefix(v.GoVersion, "go") {
		t.Errorf("version = %+v", v)
	}
}
