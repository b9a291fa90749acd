package printers

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/fetch"
)

// mockAdapter is an in-memory print system that records every call.
type mockAdapter struct {
	queues  map[string]*queue
	pending []int // consumed one per PendingJobs call; the last value repeats
	calls   []string

	createErr  error
	optionsErr error
	deleteErr  error
	rejectErr  error

	createdPPD string
}

type queue struct {
	uri string
	ppd PPDInfo
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{queues: map[string]*queue{}}
}

func (m *mockAdapter) record(call string) { m.calls = append(m.calls, call) }

func (m *mockAdapter) Exists(ctx context.Context, name string) (bool, error) {
	_, ok := m.queues[name]
	return ok, nil
}

func (m *mockAdapter) Create(ctx context.Context, req CreateRequest) error {
	m.record("create")
	m.createdPPD = req.PPD
	if m.createErr != nil {
		return m.createErr
	}
	m.queues[req.Name] = &queue{uri: req.DeviceURI}
	return nil
}

func (m *mockAdapter) ApplyOptions(ctx context.Context, name string, options map[string]string) error {
	m.record("options")
	return m.optionsErr
}

func (m *mockAdapter) Delete(ctx context.Context, name string) error {
	m.record("delete")
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.queues, name)
	return nil
}

func (m *mockAdapter) PendingJobs(ctx context.Context, name string) (int, error) {
	if len(m.pending) == 0 {
		return 0, nil
	}
	n := m.pending[0]
	if len(m.pending) > 1 {
		m.pending = m.pending[1:]
	}
	return n, nil
}

func (m *mockAdapter) RejectJobs(ctx context.Context, name string) error {
	m.record("reject")
	return m.rejectErr
}

func (m *mockAdapter) AcceptJobs(ctx context.Context, name string) error {
	m.record("accept")
	return nil
}

func (m *mockAdapter) DeviceURI(ctx context.Context, name string) (string, error) {
	q, ok := m.queues[name]
	if !ok {
		return "", errors.New("no such printer")
	}
	return q.uri, nil
}

func (m *mockAdapter) Introspect(ctx context.Context, name string) (PPDInfo, error) {
	q, ok := m.queues[name]
	if !ok {
		return PPDInfo{}, errors.New("no such printer")
	}
	return q.ppd, nil
}

// mutations returns recorded calls that change the print system.
func (m *mockAdapter) mutations() []string {
	var out []string
	for _, c := range m.calls {
		if c != "reject" && c != "accept" {
			out = append(out, c)
		}
	}
	return out
}

type mockCatalogs map[string]document.Node

func (m mockCatalogs) FirstMatch(ctx context.Context, catalogs []string, keypath string) (document.Node, bool) {
	for _, c := range catalogs {
		if doc, ok := m[c]; ok {
			if v, ok := doc.Lookup(keypath); ok {
				return v, true
			}
		}
	}
	return document.Null(), false
}

type mockStatus struct {
	stamps map[string]int64
	setErr error
}

func (m *mockStatus) LastUpdate(ctx context.Context, id string) (int64, error) {
	if v, ok := m.stamps[id]; ok {
		return v, nil
	}
	return UnknownStamp, nil
}

func (m *mockStatus) SetLastUpdate(ctx context.Context, id string, stamp int64) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.stamps[id] = stamp
	return nil
}

type mockKnown struct{ ids []string }

func (m *mockKnown) List(ctx context.Context) ([]string, error) { return m.ids, nil }

func (m *mockKnown) Add(ctx context.Context, id string) error {
	for _, e := range m.ids {
		if e == id {
			return nil
		}
	}
	m.ids = append(m.ids, id)
	return nil
}

func (m *mockKnown) Remove(ctx context.Context, id string) error {
	out := m.ids[:0]
	for _, e := range m.ids {
		if e != id {
			out = append(out, e)
		}
	}
	m.ids = out
	return nil
}

type fixedIdle int64

func (f fixedIdle) IdleSeconds() (int64, error) { return int64(f), nil }

// fakeClock advances only when the reconciler sleeps.
type fakeClock struct {
	t      time.Time
	sleeps int
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.t = c.t.Add(d)
	return ctx.Err()
}

type fixture struct {
	adapter *mockAdapter
	status  *mockStatus
	known   *mockKnown
	clock   *fakeClock
	fetches []string
	r       *Reconciler
}

const prodCatalog = `
ManagedPrinters:
  hp1:
    Model: HP LaserJet
    DeviceURI: lpd://x
    Location: Rm1
    PPDURL: drv://generic
    LastUpdate: 3
  hp2:
    Model: HP Color
    DeviceURI: ipp://color
    Location: Rm2
    PPDURL: http://repo/ppds/hp2.ppd
    LastUpdate: 1
    PPDOptions:
      Duplex: DuplexNoTumble
`

func newFixture(t *testing.T, idle int64) *fixture {
	t.Helper()
	catalog, err := document.Decode([]byte(prodCatalog))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	f := &fixture{
		adapter: newMockAdapter(),
		status:  &mockStatus{stamps: map[string]int64{}},
		known:   &mockKnown{},
		clock:   &fakeClock{t: time.Unix(1_700_000_000, 0)},
	}
	fetcher := fetch.FetcherFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		f.fetches = append(f.fetches, rawURL)
		return []byte(`*PPD-Adobe: "4.3"`), nil
	})
	f.r = NewReconciler(Deps{
		Adapter:  f.adapter,
		Catalogs: mockCatalogs{"prod": catalog},
		Status:   f.status,
		Known:    f.known,
		Idle:     fixedIdle(idle),
		Fetcher:  fetcher,
	}, WithClock(f.clock.now, f.clock.sleep))
	return f
}

func (f *fixture) install(t *testing.T, name string, scope engine.Scope) engine.Outcome {
	t.Helper()
	outcome, err := f.r.Install(context.Background(), name, []string{"prod"}, scope, engine.NewRunInfo())
	if err != nil {
		t.Fatalf("install returned error: %v", err)
	}
	return outcome
}

func TestScenarioAFreshInstall(t *testing.T) {
	f := newFixture(t, 0)

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeInstalled {
		t.Fatalf("expected installed, got %s", got)
	}
	if !reflect.DeepEqual(f.adapter.calls, []string{"create"}) {
		t.Errorf("expected only create, got %v", f.adapter.calls)
	}
	if f.adapter.createdPPD != "drv://generic" {
		t.Errorf("driver reference should be passed through, got %q", f.adapter.createdPPD)
	}
	if len(f.fetches) != 0 {
		t.Errorf("driver reference must not be fetched: %v", f.fetches)
	}
	if f.status.stamps["hp1"] != 3 {
		t.Errorf("expected stamp 3, got %d", f.status.stamps["hp1"])
	}
	if len(f.known.ids) != 0 {
		t.Errorf("system scope must not touch known printers: %v", f.known.ids)
	}
}

func TestScenarioBAlreadySatisfied(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://x", ppd: PPDInfo{ModelName: "HP LaserJet"}}
	f.status.stamps["hp1"] = 3

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeSatisfied {
		t.Fatalf("expected satisfied, got %s", got)
	}
	if len(f.adapter.calls) != 0 {
		t.Errorf("expected zero calls, got %v", f.adapter.calls)
	}
}

func TestScenarioCDrainAndUpdate(t *testing.T) {
	f := newFixture(t, 10)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://x", ppd: PPDInfo{ModelName: "HP LaserJet"}}
	f.status.stamps["hp1"] = 2
	// initial count, first drain poll, second drain poll, race check
	f.adapter.pending = []int{1, 1, 0, 0}

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeInstalled {
		t.Fatalf("expected installed, got %s", got)
	}
	want := []string{"reject", "create", "accept"}
	if !reflect.DeepEqual(f.adapter.calls, want) {
		t.Errorf("expected %v, got %v", want, f.adapter.calls)
	}
	if f.clock.sleeps != 1 {
		t.Errorf("expected one poll interval, got %d", f.clock.sleeps)
	}
	if f.status.stamps["hp1"] != 3 {
		t.Errorf("expected stamp 3, got %d", f.status.stamps["hp1"])
	}
}

func TestIdempotentSecondRun(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://x", ppd: PPDInfo{NickName: "HP LaserJet"}}

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeInstalled {
		t.Fatalf("first run: expected installed, got %s", got)
	}
	// the mock create forgets the PPD; restore what the real system would report
	f.adapter.queues["hp1"].ppd = PPDInfo{NickName: "HP LaserJet"}
	f.adapter.calls = nil

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeSatisfied {
		t.Fatalf("second run: expected satisfied, got %s", got)
	}
	if len(f.adapter.mutations()) != 0 {
		t.Errorf("second run issued mutations: %v", f.adapter.calls)
	}
}

func TestBusyQueueDeferredWithoutToggling(t *testing.T) {
	tests := []struct {
		name    string
		idle    int64
		pending []int
	}{
		{"too many jobs", 0, []int{3}},
		{"idle console", 121, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.idle)
			f.adapter.queues["hp1"] = &queue{uri: "lpd://old"}
			f.adapter.pending = tt.pending

			if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeDeferred {
				t.Fatalf("expected deferred, got %s", got)
			}
			if len(f.adapter.calls) != 0 {
				t.Errorf("expected no reject/accept toggling, got %v", f.adapter.calls)
			}
			if _, ok := f.status.stamps["hp1"]; ok {
				t.Error("stamp must not change")
			}
		})
	}
}

func TestDrainTimeoutDefers(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://old"}
	f.adapter.pending = []int{1}

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", got)
	}
	if f.clock.sleeps != 6 {
		t.Errorf("expected 6 polls in 30s at 5s, got %d", f.clock.sleeps)
	}
	if len(f.adapter.calls) != 0 {
		t.Errorf("expected no calls, got %v", f.adapter.calls)
	}
}

func TestDrainHonoursCancellation(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://old"}
	f.adapter.pending = []int{1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.r.Install(ctx, "hp1", []string{"prod"}, engine.ScopeSystem, engine.NewRunInfo())
	if err != nil || outcome != engine.OutcomeDeferred {
		t.Fatalf("expected deferred, got %s (%v)", outcome, err)
	}
	if f.clock.sleeps != 1 {
		t.Errorf("expected the first sleep to observe cancellation, got %d sleeps", f.clock.sleeps)
	}
}

func TestRaceAfterRejectRestoresQueue(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://old"}
	// idle at first, a job sneaks in before the reject lands
	f.adapter.pending = []int{0, 1}

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", got)
	}
	if !reflect.DeepEqual(f.adapter.calls, []string{"reject", "accept"}) {
		t.Errorf("expected reject then accept, got %v", f.adapter.calls)
	}
}

func TestRejectFailureRestoresQueue(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://old"}
	f.adapter.rejectErr = errors.New("cupsreject: permission denied")

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if !reflect.DeepEqual(f.adapter.calls, []string{"reject", "accept"}) {
		t.Errorf("expected reject then accept, got %v", f.adapter.calls)
	}
}

func TestOptionsFailureStillCleansUp(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp2"] = &queue{uri: "ipp://old"}
	f.adapter.optionsErr = errors.New("lpadmin: bad option")

	if got := f.install(t, "hp2", engine.ScopeUser); got != engine.OutcomeFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	want := []string{"reject", "create", "options", "accept"}
	if !reflect.DeepEqual(f.adapter.calls, want) {
		t.Errorf("expected %v, got %v", want, f.adapter.calls)
	}
	if len(f.fetches) != 1 || f.fetches[0] != "http://repo/ppds/hp2.ppd" {
		t.Errorf("expected PPD download, got %v", f.fetches)
	}
	if _, err := os.Stat(f.adapter.createdPPD); !os.IsNotExist(err) {
		t.Errorf("temporary PPD %s was not removed", f.adapter.createdPPD)
	}
	if _, ok := f.status.stamps["hp2"]; ok {
		t.Error("stamp must not be written after a failure")
	}
	if len(f.known.ids) != 0 {
		t.Errorf("failed user install must not be recorded: %v", f.known.ids)
	}
}

func TestCreateFailureRemovesPayload(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.createErr = errors.New("lpadmin: unable to copy PPD")

	if got := f.install(t, "hp2", engine.ScopeSystem); got != engine.OutcomeFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if !strings.HasPrefix(f.adapter.createdPPD, os.TempDir()) {
		t.Errorf("expected temp PPD path, got %q", f.adapter.createdPPD)
	}
	if _, err := os.Stat(f.adapter.createdPPD); !os.IsNotExist(err) {
		t.Error("temporary PPD was not removed")
	}
}

func TestUserInstallRecordsKnownPrinter(t *testing.T) {
	f := newFixture(t, 0)

	if got := f.install(t, "hp2", engine.ScopeUser); got != engine.OutcomeInstalled {
		t.Fatalf("expected installed, got %s", got)
	}
	if !reflect.DeepEqual(f.adapter.calls, []string{"create", "options"}) {
		t.Errorf("unexpected calls %v", f.adapter.calls)
	}
	if !reflect.DeepEqual(f.known.ids, []string{"hp2"}) {
		t.Errorf("expected hp2 recorded, got %v", f.known.ids)
	}
}

func TestStampWriteFailurePropagates(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{uri: "lpd://old"}
	f.status.setErr = errors.New("read-only file system")

	outcome, err := f.r.Install(context.Background(), "hp1", []string{"prod"}, engine.ScopeSystem, engine.NewRunInfo())
	if !engine.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if outcome != engine.OutcomeFailed {
		t.Errorf("expected failed, got %s", outcome)
	}
	if last := f.adapter.calls[len(f.adapter.calls)-1]; last != "accept" {
		t.Errorf("queue must be resumed, calls %v", f.adapter.calls)
	}
}

func TestUnknownPrinterIgnored(t *testing.T) {
	f := newFixture(t, 0)

	if got := f.install(t, "nope", engine.ScopeSystem); got != engine.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", got)
	}
	if len(f.adapter.calls) != 0 {
		t.Errorf("unexpected calls %v", f.adapter.calls)
	}
}

func TestRunInfoDeduplicates(t *testing.T) {
	f := newFixture(t, 0)
	info := engine.NewRunInfo()

	first, _ := f.r.Install(context.Background(), "hp1", []string{"prod"}, engine.ScopeUser, info)
	second, _ := f.r.Install(context.Background(), "hp1", []string{"prod"}, engine.ScopeSystem, info)

	if first != engine.OutcomeInstalled || second != engine.OutcomeSkipped {
		t.Errorf("expected installed then skipped, got %s, %s", first, second)
	}
	if len(f.adapter.mutations()) != 1 {
		t.Errorf("expected a single create, got %v", f.adapter.calls)
	}
}

type denyAll struct{}

func (denyAll) AllowInstall(ctx context.Context, d *Descriptor, scope engine.Scope) (bool, string, error) {
	return false, "printers in " + d.Location + " are not allowed", nil
}

func TestGateDenial(t *testing.T) {
	f := newFixture(t, 0)
	f.r.Gate = denyAll{}

	if got := f.install(t, "hp1", engine.ScopeSystem); got != engine.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", got)
	}
	if len(f.adapter.calls) != 0 {
		t.Errorf("denied install made calls %v", f.adapter.calls)
	}
}

func TestUninstall(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{}
	f.known.ids = []string{"hp1", "hp2"}

	outcome, err := f.r.Uninstall(context.Background(), "hp1", engine.ScopeUser, engine.NewRunInfo())
	if err != nil || outcome != engine.OutcomeRemoved {
		t.Fatalf("expected removed, got %s (%v)", outcome, err)
	}
	if !reflect.DeepEqual(f.known.ids, []string{"hp2"}) {
		t.Errorf("expected hp1 dropped from known printers, got %v", f.known.ids)
	}

	outcome, _ = f.r.Uninstall(context.Background(), "hp9", engine.ScopeSystem, engine.NewRunInfo())
	if outcome != engine.OutcomeAbsent {
		t.Errorf("expected absent, got %s", outcome)
	}
}

func TestUninstallAbsentUserPrinterIsForgotten(t *testing.T) {
	f := newFixture(t, 0)
	f.known.ids = []string{"gone", "hp2"}

	outcome, err := f.r.Uninstall(context.Background(), "gone", engine.ScopeUser, engine.NewRunInfo())
	if err != nil || outcome != engine.OutcomeAbsent {
		t.Fatalf("expected absent, got %s (%v)", outcome, err)
	}
	if !reflect.DeepEqual(f.known.ids, []string{"hp2"}) {
		t.Errorf("expected gone dropped from known printers, got %v", f.known.ids)
	}
	if len(f.adapter.calls) != 0 {
		t.Errorf("absent printer should not be deleted, got %v", f.adapter.calls)
	}
}

func TestUninstallFailureLeavesState(t *testing.T) {
	f := newFixture(t, 0)
	f.adapter.queues["hp1"] = &queue{}
	f.adapter.deleteErr = errors.New("lpadmin: printer busy")
	f.known.ids = []string{"hp1"}

	outcome, err := f.r.Uninstall(context.Background(), "hp1", engine.ScopeUser, engine.NewRunInfo())
	if err != nil || outcome != engine.OutcomeFailed {
		t.Fatalf("expected failed, got %s (%v)", outcome, err)
	}
	if !reflect.DeepEqual(f.known.ids, []string{"hp1"}) {
		t.Errorf("known printers must be untouched, got %v", f.known.ids)
	}
}
