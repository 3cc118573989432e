package listing

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"examtrack/pkg/domain"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func rec(id, name string, registered time.Time) domain.Record {
	return domain.Record{ID: id, Name: name, Location: "L", RequestingDoctor: "D", ReasonForVisit: "R", RegisteredDate: registered}
}

func fixture() []domain.Record {
	future := testNow.Add(48 * time.Hour)
	scheduled := rec("s", "ultrasound", testNow.Add(-time.Hour))
	scheduled.ScheduledDate = &future
	done := rec("d", "Blood panel", testNow.Add(-72*time.Hour))
	done.AttachedFiles = []domain.AttachedFile{{ID: "f", URL: "u", Name: "n"}}
	legacy := rec("l", "Échographie", testNow.Add(-24*time.Hour))
	legacy.LegacyFileURL = "memory://blobs/legacy.pdf"
	upcoming := rec("u", "MRI", testNow.Add(24*time.Hour))
	return []domain.Record{scheduled, done, legacy, upcoming}
}

func ids(records []domain.Record) string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return strings.Join(out, ",")
}

func TestProjectFilters(t *testing.T) {
	records := fixture()
	cases := []struct {
		filter Filter
		want   string
	}{
		{FilterAll, "u,s,l,d"},
		{FilterScheduled, "s"},
		{FilterCompleted, "l,d"},
		{FilterResultPending, "u,s"},
	}
	for _, tc := range cases {
		if got := ids(Project(records, tc.filter, SortDateDesc, testNow)); got != tc.want {
			t.Fatalf("filter %s: got %s want %s", tc.filter, got, tc.want)
		}
	}
}

func TestProjectSorts(t *testing.T) {
	records := fixture()
	cases := []struct {
		order Sort
		want  string
	}{
		{SortNameAsc, "d,l,u,s"},
		{SortNameDesc, "s,u,l,d"},
		{SortDateAsc, "d,l,s,u"},
		{SortDateDesc, "u,s,l,d"},
	}
	for _, tc := range cases {
		if got := ids(Project(records, FilterAll, tc.order, testNow)); got != tc.want {
			t.Fatalf("sort %s: got %s want %s", tc.order, got, tc.want)
		}
	}
}

func TestProjectIsPure(t *testing.T) {
	records := fixture()
	before := make([]domain.Record, len(records))
	copy(before, records)

	first := Project(records, FilterAll, SortNameAsc, testNow)
	second := Project(records, FilterAll, SortNameAsc, testNow)
	if !reflect.DeepEqual(records, before) {
		t.Fatalf("project mutated its input")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("project is not deterministic")
	}
}

func TestParseFilterAndSort(t *testing.T) {
	if f, err := ParseFilter(""); err != nil || f != FilterAll {
		t.Fatalf("blank filter: %v %v", f, err)
	}
	if f, err := ParseFilter("Scheduled"); err != nil || f != FilterScheduled {
		t.Fatalf("scheduled filter: %v %v", f, err)
	}
	if _, err := ParseFilter("bogus"); err == nil {
		t.Fatalf("expected error for unknown filter")
	}
	if o, err := ParseSort(""); err != nil || o != SortDateDesc {
		t.Fatalf("blank sort: %v %v", o, err)
	}
	if _, err := ParseSort("sideways"); err == nil {
		t.Fatalf("expected error for unknown sort")
	}
}

type fakeSource struct {
	mu      sync.Mutex
	records []domain.Record
	err     error
	queries []string
}

func (f *fakeSource) FetchAll(context.Context) ([]domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeSource) Search(_ context.Context, q string) ([]domain.Record, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Record
	for _, r := range f.records {
		if strings.Contains(strings.ToLower(r.Name), strings.ToLower(q)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newState(src *fakeSource) *State {
	st := NewState(src)
	st.SetClock(func() time.Time { return testNow })
	return st
}

func TestEmptyMessagesAreDistinct(t *testing.T) {
	ctx := context.Background()
	st := newState(&fakeSource{})
	if err := st.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	v := st.View()
	if !v.Empty || v.Message != MessageNoRecords {
		t.Fatalf("no records: %+v", v)
	}

	done := rec("d", "Blood panel", testNow.Add(-time.Hour))
	st = newState(&fakeSource{records: []domain.Record{done}})
	_ = st.Refresh(ctx)
	st.SetFilter(FilterScheduled)
	v = st.View()
	if !v.Empty || v.Message != MessageNoScheduled {
		t.Fatalf("filtered out: %+v", v)
	}
	if v.Message == MessageNoRecords {
		t.Fatalf("filter message must differ from the no-records message")
	}
}

func TestSearchModeAndCancel(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{records: fixture()}
	st := newState(src)
	_ = st.Refresh(ctx)
	st.SetFilter(FilterScheduled)

	if err := st.Search(ctx, "blood"); err != nil {
		t.Fatalf("search: %v", err)
	}
	v := st.View()
	if !v.Searching || ids(v.Records) != "d" {
		t.Fatalf("search view: %+v", v)
	}
	_ = st.Search(ctx, "zzz")
	if v := st.View(); !v.Empty || v.Message != MessageNoSearchResults {
		t.Fatalf("empty search view: %+v", v)
	}

	st.CancelSearch()
	v = st.View()
	if v.Searching || ids(v.Records) != "s" {
		t.Fatalf("cancel must restore filter projection: %+v", v)
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{records: fixture()}
	st := newState(src)
	_ = st.Refresh(ctx)
	src.records = []domain.Record{rec("x", "New", testNow)}
	_ = st.Refresh(ctx)
	if got := ids(st.View().Records); got != "x" {
		t.Fatalf("refresh did not replace records: %s", got)
	}
}

func TestRefreshErrorKeepsPreviousRecords(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{records: fixture()}
	st := newState(src)
	_ = st.Refresh(ctx)
	src.err = errors.New("offline")
	if err := st.Refresh(ctx); err == nil {
		t.Fatalf("expected refresh error")
	}
	if len(st.View().Records) != 4 {
		t.Fatalf("failed refresh must keep the previous set")
	}
}

func TestRemoveDropsRecordEverywhere(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{records: fixture()}
	st := newState(src)
	_ = st.Refresh(ctx)
	_ = st.Search(ctx, "blood")
	st.Remove("d")
	if v := st.View(); len(v.Records) != 0 {
		t.Fatalf("removed record still in search results: %+v", v)
	}
	st.CancelSearch()
	if got := ids(st.View().Records); strings.Contains(got, "d") {
		t.Fatalf("removed record still listed: %s", got)
	}
	if len(src.records) != 4 {
		t.Fatalf("remove must not touch the source slice")
	}
}

func TestRegistryPerUser(t *testing.T) {
	reg := NewRegistry(&fakeSource{})
	a := reg.For("u1")
	if reg.For("u1") != a {
		t.Fatalf("registry must reuse state")
	}
	if reg.For("u2") == a {
		t.Fatalf("users must not share state")
	}
	reg.Forget("u1")
	if reg.For("u1") == a {
		t.Fatalf("forget must drop state")
	}
}

func TestRegistryDropsIdleStates(t *testing.T) {
	reg := NewRegistry(&fakeSource{})
	now := testNow
	reg.SetClock(func() time.Time { return now })
	reg.SetIdleTTL(10 * time.Minute)

	idle := reg.For("idle")
	now = now.Add(6 * time.Minute)
	active := reg.For("active")
	now = now.Add(6 * time.Minute)
	if reg.For("active") != active {
		t.Fatalf("recently used state must survive")
	}
	if reg.Len() != 1 {
		t.Fatalf("idle state not dropped, %d states left", reg.Len())
	}
	if reg.For("idle") == idle {
		t.Fatalf("idle user must get a fresh state")
	}
}

func TestViewForKeepsRequestSettingsTogether(t *testing.T) {
	ctx := context.Background()
	st := newState(&fakeSource{records: fixture()})
	if err := st.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	requests := []Params{
		{Filter: FilterAll, Sort: SortDateDesc},
		{Filter: FilterScheduled, Sort: SortNameAsc, Query: "blood"},
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		bad int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				p := requests[(g+i)%2]
				v, err := st.ViewFor(ctx, p)
				if err != nil {
					t.Errorf("view: %v", err)
					return
				}
				if v.Filter != p.Filter || v.Sort != p.Sort || v.Searching != (p.Query != "") || v.Query != p.Query {
					mu.Lock()
					bad++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()
	if bad != 0 {
		t.Fatalf("%d views carried another request's settings", bad)
	}
}
