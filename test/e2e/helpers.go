package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/oppsync/internal/api"
	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/config"
	"github.com/hyperengineering/oppsync/internal/store"
	"github.com/hyperengineering/oppsync/internal/trigger"
	"github.com/hyperengineering/oppsync/internal/types"
	"github.com/hyperengineering/oppsync/internal/watermark"
)

const (
	testAPIKey = "e2e-test-api-key"
	testOrgID  = "00D000000000001"
	amountJob  = "opportunity-amount"
)

// --- Fixture Types ---

// soapRecord is one Opportunity inside an outbound message.
type soapRecord struct {
	ID     string
	Name   string
	Amount float64
	Stage  string
}

// opportunityRow is an opportunities row read straight from SQLite.
type opportunityRow struct {
	ID     string
	Name   string
	Fields map[string]any
}

// --- In-process environment ---

// syncEnv is the full service stack over real SQLite files, without the
// scheduler running, so tests decide when polls happen.
type syncEnv struct {
	router http.Handler
	state  *store.SQLiteStore
	source *store.SQLiteStore
	target *store.SQLiteStore
	runner *batch.Runner
	svc    *trigger.Service
}

func defaultJobs() []config.JobConfig {
	amount := config.DefaultJob(amountJob)
	amount.Filter.Expression = "Amount: >5000"
	amount.RetryBaseDelay = config.Duration(time.Millisecond)
	amount.WatermarkDefaultOffset = config.Duration(time.Hour)
	amount.MaxWritesPerSecond = 0

	public := config.DefaultJob("opportunity-public-sector")
	public.Filter.Predicate = "industry-headcount"
	public.Filter.Params = map[string]any{
		"industries":    []any{"Education", "Government"},
		"min_employees": 5000,
	}
	public.Mapping.Renamed = map[string]string{"Industry": "Industry"}
	public.WatermarkDefaultOffset = config.Duration(time.Hour)
	public.MaxWritesPerSecond = 0

	return []config.JobConfig{amount, public}
}

func setupSyncEnv(t *testing.T, mutate ...func(*config.Config)) *syncEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Jobs: defaultJobs(),
		Push: config.PushConfig{AwaitTimeout: config.Duration(10 * time.Second), OrganizationID: testOrgID},
	}
	for _, m := range mutate {
		m(cfg)
	}

	open := func(name string) *store.SQLiteStore {
		s, err := store.NewSQLiteStore(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		return s
	}
	env := &syncEnv{
		state:  open("oppsync.db"),
		source: open("org-a.db"),
		target: open("org-b.db"),
	}
	env.runner = batch.NewRunner(env.state)

	svc, err := trigger.NewService(cfg, env.source, env.target, watermark.NewStore(env.state), env.runner)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	env.svc = svc
	env.router = api.NewRouter(api.NewHandler(svc, env.state, testAPIKey, "e2e"))

	t.Cleanup(func() {
		env.runner.Wait()
		env.target.Close()
		env.source.Close()
		env.state.Close()
	})
	return env
}

// seed inserts an opportunity into the source org.
func (e *syncEnv) seed(t *testing.T, fields map[string]any) string {
	t.Helper()
	id, err := e.source.Insert(context.Background(), types.NewRecord(fields))
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return id
}

// do sends a request through the router, authenticated unless path is
// a push.
func (e *syncEnv) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !strings.HasPrefix(path, "/api/v1/push/") {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// pollAndWait triggers a poll over HTTP and waits for the job to finish.
func (e *syncEnv) pollAndWait(t *testing.T, job string) types.JobReport {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/jobs/"+job+"/poll?wait=10s", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("poll %s: status %d: %s", job, w.Code, w.Body.String())
	}
	var rep types.JobReport
	decodeJSON(t, w.Body, &rep)
	return rep
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Payloads ---

func soapDelivery(orgID string, records ...soapRecord) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
 <soapenv:Body>
  <notifications xmlns="http://soap.sforce.com/2005/09/outbound">
   <OrganizationId>` + orgID + `</OrganizationId>
   <ActionId>04k000000000001</ActionId>
`)
	for i, r := range records {
		stage := r.Stage
		if stage == "" {
			stage = "Prospecting"
		}
		fmt.Fprintf(&b, `   <Notification>
     <Id>04l00000000%04d</Id>
     <sObject xsi:type="sf:Opportunity" xmlns:sf="urn:sobject.enterprise.soap.sforce.com">
       <sf:Id>%s</sf:Id>
       <sf:Amount>%g</sf:Amount>
       <sf:CloseDate>2025-06-30</sf:CloseDate>
       <sf:LastModifiedDate>2025-01-15T09:30:00.000Z</sf:LastModifiedDate>
       <sf:Name>%s</sf:Name>
       <sf:StageName>%s</sf:StageName>
     </sObject>
   </Notification>
`, i, r.ID, r.Amount, r.Name, stage)
	}
	b.WriteString(`  </notifications>
 </soapenv:Body>
</soapenv:Envelope>`)
	return []byte(b.String())
}

// --- DB Inspection ---

func opportunitiesNamed(t *testing.T, db *sql.DB, name string) []opportunityRow {
	t.Helper()
	rows, err := db.Query(`SELECT id, name, fields FROM opportunities WHERE name = ? ORDER BY id`, name)
	if err != nil {
		t.Fatalf("query opportunities: %v", err)
	}
	defer rows.Close()

	var out []opportunityRow
	for rows.Next() {
		var r opportunityRow
		var fields string
		if err := rows.Scan(&r.ID, &r.Name, &fields); err != nil {
			t.Fatalf("scan opportunity: %v", err)
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			t.Fatalf("decode fields of %s: %v", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate opportunities: %v", err)
	}
	return out
}

func opportunityCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM opportunities`).Scan(&n); err != nil {
		t.Fatalf("count opportunities: %v", err)
	}
	return n
}

func outcomeCount(t *testing.T, db *sql.DB, jobID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM record_outcomes WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		t.Fatalf("count outcomes: %v", err)
	}
	return n
}

func storedWatermark(t *testing.T, db *sql.DB, job string) (string, bool) {
	t.Helper()
	var v string
	err := db.QueryRow(`SELECT value FROM watermarks WHERE job_name = ?`, job).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	return v, true
}
