package proxies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	dbutil "github.com/router-for-me/ProxyPool/internal/db"
	"github.com/router-for-me/ProxyPool/internal/models"
	"github.com/router-for-me/ProxyPool/internal/ratecounter"
	internalsettings "github.com/router-for-me/ProxyPool/internal/settings"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeProber struct {
	mu      sync.Mutex
	ips     map[string]string // proxy URL -> external IP; missing means failure
	probed  []string
	started chan string
	release chan struct{}
}

func (f *fakeProber) Probe(ctx context.Context, proxyURL string, _ time.Duration) (string, error) {
	f.mu.Lock()
	f.probed = append(f.probed, proxyURL)
	ip, ok := f.ips[proxyURL]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- proxyURL
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", errors.New("connection refused")
	}
	return ip, nil
}

func (f *fakeProber) probedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, errOpen := dbutil.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestRegistry(conn *gorm.DB, prober *fakeProber, mutate func(*internalsettings.Values)) *Registry {
	return NewRegistry(conn, prober,
		WithClock(func() time.Time { return testNow }),
		WithSettings(func() internalsettings.Values {
			v := internalsettings.Defaults()
			if mutate != nil {
				mutate(&v)
			}
			return v
		}),
	)
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }

func seedProxy(t *testing.T, conn *gorm.DB, p models.Proxy) models.Proxy {
	t.Helper()
	if p.ID == "" {
		p.ID = "p-" + strings.NewReplacer(":", "_", "/", "_", ".", "_").Replace(p.URL)
	}
	if p.Source == "" {
		p.Source = "src"
	}
	if p.Protocol == "" {
		p.Protocol = models.ProtocolFromURL(p.URL)
	}
	if p.Status == "" {
		p.Status = models.StatusUnknown
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = testNow.Add(-10 * time.Minute)
	}
	if errCreate := conn.Create(&p).Error; errCreate != nil {
		t.Fatalf("seed proxy %s: %v", p.URL, errCreate)
	}
	return p
}

func TestCheckSuccessMarksOK(t *testing.T) {
	conn := openTestDB(t)
	prober := &fakeProber{ips: map[string]string{"http://1.2.3.4:80": "1.2.3.4"}}
	reg := newTestRegistry(conn, prober, nil)
	p := seedProxy(t, conn, models.Proxy{URL: "http://1.2.3.4:80"})

	res, errCheck := reg.Check(context.Background(), p.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if res.Status != models.StatusOK || res.Deleted {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, errGet := reg.Get(context.Background(), p.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if stored.Status != models.StatusOK {
		t.Fatalf("status=%s", stored.Status)
	}
	if stored.ExternalIP == nil || *stored.ExternalIP != "1.2.3.4" {
		t.Fatalf("external ip=%v", stored.ExternalIP)
	}
	if stored.LastOKAt == nil || !stored.LastOKAt.Equal(testNow) {
		t.Fatalf("last_ok_at=%v", stored.LastOKAt)
	}
	if stored.CheckedAt == nil || !stored.CheckedAt.Equal(testNow) {
		t.Fatalf("checked_at=%v", stored.CheckedAt)
	}
	if len(stored.CheckHistory) != 1 || !stored.CheckHistory[0] {
		t.Fatalf("history=%v", stored.CheckHistory)
	}
	if reg.ChecksPerMinute() != 1 {
		t.Fatalf("checks per minute=%d", reg.ChecksPerMinute())
	}
}

func TestCheckFailureMarksDownAndKeepsLastOK(t *testing.T) {
	conn := openTestDB(t)
	reg := newTestRegistry(conn, &fakeProber{}, nil)
	lastOK := testNow.Add(-20 * time.Minute)
	p := seedProxy(t, conn, models.Proxy{
		URL:          "socks5://5.6.7.8:1080",
		Status:       models.StatusOK,
		ExternalIP:   ptrString("5.6.7.8"),
		LastOKAt:     ptrTime(lastOK),
		CheckedAt:    ptrTime(lastOK),
		CheckHistory: []bool{true},
	})

	if _, errCheck := reg.Check(context.Background(), p.ID); errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	stored, errGet := reg.Get(context.Background(), p.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if stored.Status != models.StatusDown {
		t.Fatalf("status=%s", stored.Status)
	}
	if stored.ExternalIP != nil {
		t.Fatalf("external ip should be cleared, got %q", *stored.ExternalIP)
	}
	if stored.LastOKAt == nil || !stored.LastOKAt.Equal(lastOK) {
		t.Fatalf("last_ok_at changed: %v", stored.LastOKAt)
	}
	if len(stored.CheckHistory) != 2 || stored.CheckHistory[0] || !stored.CheckHistory[1] {
		t.Fatalf("history=%v", stored.CheckHistory)
	}
}

func TestCheckHistoryIsCapped(t *testing.T) {
	conn := openTestDB(t)
	prober := &fakeProber{ips: map[string]string{"http://9.9.9.9:3128": "9.9.9.9"}}
	reg := newTestRegistry(conn, prober, nil)
	history := make([]bool, models.MaxCheckHistory)
	p := seedProxy(t, conn, models.Proxy{URL: "http://9.9.9.9:3128", CheckHistory: history})

	res, errCheck := reg.Check(context.Background(), p.ID)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if len(res.CheckHistory) != models.MaxCheckHistory {
		t.Fatalf("history len=%d", len(res.CheckHistory))
	}
	if !res.CheckHistory[0] {
		t.Fatal("latest outcome should be first")
	}
	for i, v := range res.CheckHistory[1:] {
		if v {
			t.Fatalf("unexpected success at %d", i+1)
		}
	}
}

func TestConcurrentChecksKeepEveryOutcome(t *testing.T) {
	conn := openTestDB(t)
	prober := &fakeProber{
		ips:     map[string]string{"http://4.4.4.4:8080": "4.4.4.4"},
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	reg := newTestRegistry(conn, prober, nil)
	p := seedProxy(t, conn, models.Proxy{URL: "http://4.4.4.4:8080"})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errCheck := reg.Check(context.Background(), p.ID)
			errs <- errCheck
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-prober.started:
		case <-time.After(5 * time.Second):
			t.Fatal("checks did not reach the prober")
		}
	}
	close(prober.release)
	wg.Wait()
	close(errs)
	for errCheck := range errs {
		if errCheck != nil {
			t.Fatalf("check: %v", errCheck)
		}
	}

	stored, errGet := reg.Get(context.Background(), p.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if len(stored.CheckHistory) != 2 || !stored.CheckHistory[0] || !stored.CheckHistory[1] {
		t.Fatalf("history=%v, want [true true]", stored.CheckHistory)
	}
}

func TestCheckDeletionPolicy(t *testing.T) {
	cases := []struct {
		name       string
		createdAgo time.Duration
		lastOKAgo  time.Duration // zero means never OK
		wantDelete bool
	}{
		{name: "last ok 61m ago", createdAgo: 3 * time.Hour, lastOKAgo: 61 * time.Minute, wantDelete: true},
		{name: "last ok 59m ago", createdAgo: 3 * time.Hour, lastOKAgo: 59 * time.Minute, wantDelete: false},
		{name: "never ok created 61m ago", createdAgo: 61 * time.Minute, wantDelete: true},
		{name: "never ok created 30m ago", createdAgo: 30 * time.Minute, wantDelete: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := openTestDB(t)
			reg := newTestRegistry(conn, &fakeProber{}, nil)
			seed := models.Proxy{URL: "http://10.0.0.1:8080", CreatedAt: testNow.Add(-tc.createdAgo)}
			if tc.lastOKAgo > 0 {
				seed.LastOKAt = ptrTime(testNow.Add(-tc.lastOKAgo))
			}
			p := seedProxy(t, conn, seed)

			res, errCheck := reg.Check(context.Background(), p.ID)
			if errCheck != nil {
				t.Fatalf("check: %v", errCheck)
			}
			if res.Deleted != tc.wantDelete {
				t.Fatalf("deleted=%v, want %v", res.Deleted, tc.wantDelete)
			}
			_, errGet := reg.Get(context.Background(), p.ID)
			if tc.wantDelete && !errors.Is(errGet, ErrProxyNotFound) {
				t.Fatalf("expected proxy to be gone, got %v", errGet)
			}
			if !tc.wantDelete && errGet != nil {
				t.Fatalf("expected proxy to remain, got %v", errGet)
			}
		})
	}
}

func TestCheckUnknownProxy(t *testing.T) {
	conn := openTestDB(t)
	reg := newTestRegistry(conn, &fakeProber{}, nil)
	if _, errCheck := reg.Check(context.Background(), "missing"); !errors.Is(errCheck, ErrProxyNotFound) {
		t.Fatalf("expected ErrProxyNotFound, got %v", errCheck)
	}
}

func TestCheckBatchSelectsUncheckedFirst(t *testing.T) {
	conn := openTestDB(t)
	prober := &fakeProber{}
	reg := newTestRegistry(conn, prober, func(v *internalsettings.Values) { v.MaxProxiesCheck = 3 })

	seedProxy(t, conn, models.Proxy{URL: "http://a:1", CreatedAt: testNow.Add(-2 * time.Minute)})
	seedProxy(t, conn, models.Proxy{URL: "http://b:1", CreatedAt: testNow.Add(-3 * time.Minute)})
	seedProxy(t, conn, models.Proxy{URL: "http://c:1", CheckedAt: ptrTime(testNow.Add(-10 * time.Minute))})
	seedProxy(t, conn, models.Proxy{URL: "http://d:1", CheckedAt: ptrTime(testNow.Add(-20 * time.Minute))})
	seedProxy(t, conn, models.Proxy{URL: "http://e:1", CheckedAt: ptrTime(testNow.Add(-1 * time.Minute))})

	ids, errSelect := reg.selectCandidates(context.Background(), 3)
	if errSelect != nil {
		t.Fatalf("select: %v", errSelect)
	}
	want := []string{"p-http___b_1", "p-http___a_1", "p-http___d_1"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("candidates=%v, want %v", ids, want)
	}

	res := reg.CheckBatch(context.Background())
	if res.Skipped || res.Checked != 3 || res.Down != 3 {
		t.Fatalf("unexpected batch result: %+v", res)
	}
	for _, url := range prober.probedURLs() {
		if url == "http://e:1" || url == "http://c:1" {
			t.Fatalf("%s should not have been probed", url)
		}
	}
}

func TestCheckBatchDisabled(t *testing.T) {
	conn := openTestDB(t)
	prober := &fakeProber{}
	reg := newTestRegistry(conn, prober, func(v *internalsettings.Values) { v.ProxiesCheck = false })
	seedProxy(t, conn, models.Proxy{URL: "http://a:1"})

	res := reg.CheckBatch(context.Background())
	if res.Checked != 0 || len(prober.probedURLs()) != 0 {
		t.Fatalf("expected no checks, got %+v", res)
	}
}

func TestCheckBatchSkipsWhileRunning(t *testing.T) {
	conn := openTestDB(t)
	prober := &fakeProber{started: make(chan string, 1), release: make(chan struct{})}
	reg := newTestRegistry(conn, prober, nil)
	seedProxy(t, conn, models.Proxy{URL: "http://slow:1"})

	done := make(chan BatchResult, 1)
	go func() { done <- reg.CheckBatch(context.Background()) }()

	select {
	case <-prober.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch did not start")
	}

	if second := reg.CheckBatch(context.Background()); !second.Skipped {
		t.Fatalf("overlapping batch should be skipped, got %+v", second)
	}

	close(prober.release)
	select {
	case first := <-done:
		if first.Skipped || first.Checked != 1 {
			t.Fatalf("unexpected first batch: %+v", first)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first batch did not finish")
	}
	if len(prober.probedURLs()) != 1 {
		t.Fatalf("expected exactly one probe, got %v", prober.probedURLs())
	}
}

func TestInsertNewSkipsDuplicates(t *testing.T) {
	conn := openTestDB(t)
	reg := newTestRegistry(conn, &fakeProber{}, nil)
	seedProxy(t, conn, models.Proxy{URL: "http://1.1.1.1:80"})

	var rows []models.Proxy
	for _, raw := range []string{"http://1.1.1.1:80", "http://2.2.2.2:80", "http://2.2.2.2:80", "socks5://3.3.3.3:1080"} {
		p, errNew := models.NewProxy("src", raw, testNow)
		if errNew != nil {
			t.Fatalf("new proxy: %v", errNew)
		}
		rows = append(rows, p)
	}

	created, errInsert := reg.InsertNew(context.Background(), rows)
	if errInsert != nil {
		t.Fatalf("insert: %v", errInsert)
	}
	if created != 2 {
		t.Fatalf("created=%d, want 2", created)
	}
	var total int64
	conn.Model(&models.Proxy{}).Count(&total)
	if total != 3 {
		t.Fatalf("total=%d, want 3", total)
	}
}

func TestListFilters(t *testing.T) {
	conn := openTestDB(t)
	reg := newTestRegistry(conn, &fakeProber{}, nil)
	seedProxy(t, conn, models.Proxy{URL: "http://alpha.example:80", Source: "a", Status: models.StatusOK})
	seedProxy(t, conn, models.Proxy{URL: "http://beta.example:80", Source: "a", Status: models.StatusDown})
	seedProxy(t, conn, models.Proxy{URL: "http://gamma.example:80", Source: "b", Status: models.StatusOK})

	status := models.StatusOK
	rows, total, errList := reg.List(context.Background(), ListFilter{Source: "a", Status: &status})
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if total != 1 || len(rows) != 1 || rows[0].URL != "http://alpha.example:80" {
		t.Fatalf("unexpected rows: total=%d rows=%v", total, rows)
	}

	rows, _, errList = reg.List(context.Background(), ListFilter{Keyword: "GAMMA"})
	if errList != nil {
		t.Fatalf("list keyword: %v", errList)
	}
	if len(rows) != 1 || rows[0].Source != "b" {
		t.Fatalf("keyword rows=%v", rows)
	}
}

func TestDeleteBySource(t *testing.T) {
	conn := openTestDB(t)
	reg := newTestRegistry(conn, &fakeProber{}, nil)
	seedProxy(t, conn, models.Proxy{URL: "http://a:1", Source: "one"})
	seedProxy(t, conn, models.Proxy{URL: "http://b:1", Source: "one"})
	seedProxy(t, conn, models.Proxy{URL: "http://c:1", Source: "two"})

	removed, errDelete := reg.DeleteBySource(context.Background(), "one")
	if errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}
	if removed != 2 {
		t.Fatalf("removed=%d", removed)
	}
}

func TestChecksPerMinuteScalesCounterWindow(t *testing.T) {
	conn := openTestDB(t)
	counter := ratecounter.New(30*time.Second, ratecounter.WithClock(func() time.Time { return testNow }))
	reg := NewRegistry(conn, &fakeProber{}, WithCounter(counter))
	for i := 0; i < 3; i++ {
		counter.Record()
	}
	if got := reg.ChecksPerMinute(); got != 6 {
		t.Fatalf("checks per minute=%d, want 6", got)
	}
}
