package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/repo"
)

func assertNoQueryRows(t *testing.T, f *fixture) {
	t.Helper()
	if n := count(t, f.db, &domain.Query{}); n != 0 {
		t.Fatalf("queries = %d; want 0", n)
	}
	if n := count(t, f.db, &domain.QueryUser{}); n != 0 {
		t.Fatalf("query_users = %d; want 0", n)
	}
}

func TestCreate_EmptyTargetsWritesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "alice")
	f.upload(t, a)
	typeID := queryTypeID(t, f.db, domain.QueryTypePrompt)

	_, err := f.queries.Create(context.Background(), CreateQueryInput{
		RequesterID: a, TargetIDs: []uint{}, Content: "when?", TypeID: typeID,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if f.ai.answerCalls != 0 {
		t.Fatalf("delegate should not be called")
	}
	assertNoQueryRows(t, f)
}

func TestCreate_MissingTargetCalendarWritesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "alice")
	b := f.register(t, "bob")
	f.upload(t, a)
	typeID := queryTypeID(t, f.db, domain.QueryTypePrompt)

	_, err := f.queries.Create(context.Background(), CreateQueryInput{
		RequesterID: a, TargetIDs: []uint{b}, Content: "when?", TypeID: typeID,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if f.ai.answerCalls != 0 {
		t.Fatalf("delegate should not be called")
	}
	assertNoQueryRows(t, f)
}

func TestCreate_ValidationAndLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "carol")
	f.upload(t, a)
	typeID := queryTypeID(t, f.db, domain.QueryTypePrompt)

	cases := []struct {
		name string
		in   CreateQueryInput
		kind error
	}{
		{"blank content", CreateQueryInput{RequesterID: a, TargetIDs: []uint{a}, Content: " ", TypeID: typeID}, ErrValidation},
		{"missing type", CreateQueryInput{RequesterID: a, TargetIDs: []uint{a}, Content: "q"}, ErrValidation},
		{"unknown type", CreateQueryInput{RequesterID: a, TargetIDs: []uint{a}, Content: "q", TypeID: 99}, ErrValidation},
		{"zero target", CreateQueryInput{RequesterID: a, TargetIDs: []uint{0}, Content: "q", TypeID: typeID}, ErrValidation},
		{"unknown target", CreateQueryInput{RequesterID: a, TargetIDs: []uint{77}, Content: "q", TypeID: typeID}, ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := f.queries.Create(ctx, tc.in); !errors.Is(err, tc.kind) {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.kind, err)
		}
	}
	assertNoQueryRows(t, f)
}

func TestCreate_RequesterWithoutCalendar(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "dave")
	b := f.register(t, "erin")
	f.upload(t, b)

	_, err := f.queries.Create(context.Background(), CreateQueryInput{
		RequesterID: a, TargetIDs: []uint{b}, Content: "q", TypeID: queryTypeID(t, f.db, domain.QueryTypePrompt),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	assertNoQueryRows(t, f)
}

func TestCreate_DelegateFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "frank")
	b := f.register(t, "gina")
	f.upload(t, a)
	f.upload(t, b)
	f.ai.answer = func(context.Context, string, []ai.CalendarEntry) (string, error) { return "", errDelegateDown }

	_, err := f.queries.Create(context.Background(), CreateQueryInput{
		RequesterID: a, TargetIDs: []uint{b}, Content: "q", TypeID: queryTypeID(t, f.db, domain.QueryTypePrompt),
	})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	assertNoQueryRows(t, f)
}

func TestCreate_PersistsQueryAndTargets(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "hank")
	b := f.register(t, "ivy")
	c := f.register(t, "jack")
	for _, id := range []uint{a, b, c} {
		f.upload(t, id)
	}
	typeID := queryTypeID(t, f.db, domain.QueryTypeAnswer)

	res, err := f.queries.Create(context.Background(), CreateQueryInput{
		RequesterID: a, TargetIDs: []uint{c, b, c, a}, Content: "  lunch?  ", TypeID: typeID,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.AIResult != "everyone is free on Tuesday" {
		t.Fatalf("aiResult = %q", res.AIResult)
	}
	q := res.Query
	if q.UserID != a || q.TypeID != typeID || q.Content != "lunch?" {
		t.Fatalf("unexpected query: %+v", q)
	}
	if q.Result == nil || *q.Result != res.AIResult {
		t.Fatalf("result not stored: %v", q.Result)
	}
	if len(q.Targets) != 3 {
		t.Fatalf("targets = %d; want 3 distinct", len(q.Targets))
	}

	// Calendars go to the delegate requester first, then targets in order.
	got := make([]uint, 0, len(f.ai.lastEntries))
	for _, e := range f.ai.lastEntries {
		got = append(got, e.UserID)
	}
	want := []uint{a, c, b}
	if len(got) != len(want) {
		t.Fatalf("entries = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v; want %v", got, want)
		}
	}
	if f.ai.lastEntries[0].Username != "hank" || len(f.ai.lastEntries[0].Availability) == 0 {
		t.Fatalf("entry not populated: %+v", f.ai.lastEntries[0])
	}

	fetched, err := f.queries.Get(context.Background(), q.ID)
	if err != nil || fetched.ID != q.ID {
		t.Fatalf("Get: %v", err)
	}
	if _, err := f.queries.Get(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}
}

// seedQueries inserts n queries for userID one minute apart, oldest first.
func seedQueries(t *testing.T, f *fixture, userID, typeID uint, start time.Time, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		q := &domain.Query{
			UserID:    userID,
			TypeID:    typeID,
			Content:   "q",
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateQuery(context.Background(), f.db, q); err != nil {
			t.Fatalf("seed query: %v", err)
		}
		ids = append(ids, q.ID)
	}
	return ids
}

func TestListByUser_FifteenItemsTwoPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "kim")
	b := f.register(t, "lee")
	typeID := queryTypeID(t, f.db, domain.QueryTypePrompt)
	ids := seedQueries(t, f, a, typeID, time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC), 15)
	seedQueries(t, f, b, typeID, time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC), 3)

	p1, err := f.queries.ListByUser(ctx, a, 1, 10)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if p1.Total != 15 || p1.TotalPages != 2 || len(p1.Items) != 10 || p1.Page != 1 || p1.Limit != 10 {
		t.Fatalf("page 1 = total %d pages %d items %d", p1.Total, p1.TotalPages, len(p1.Items))
	}
	if p1.Items[0].ID != ids[14] {
		t.Fatalf("newest first: got %d want %d", p1.Items[0].ID, ids[14])
	}

	p2, err := f.queries.ListByUser(ctx, a, 2, 10)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Items) != 5 || p2.TotalPages != 2 || p2.Items[4].ID != ids[0] {
		t.Fatalf("page 2 = %d items", len(p2.Items))
	}

	p3, _ := f.queries.ListByUser(ctx, a, 3, 10)
	if len(p3.Items) != 0 || p3.Items == nil {
		t.Fatalf("page 3 should be an empty list, got %v", p3.Items)
	}
}

func TestList_ClampsPaging(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "max")
	seedQueries(t, f, a, queryTypeID(t, f.db, domain.QueryTypePrompt), time.Now().UTC(), 3)

	p, err := f.queries.List(context.Background(), 0, 1000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if p.Page != 1 || p.Limit != MaxPageLimit || p.Total != 3 || p.TotalPages != 1 {
		t.Fatalf("unexpected page: %+v", p)
	}

	empty := newFixture(t)
	p, _ = empty.queries.List(context.Background(), 1, 0)
	if p.Limit != DefaultPageLimit || p.Total != 0 || p.TotalPages != 0 || p.Items == nil {
		t.Fatalf("unexpected empty page: %+v", p)
	}
}

func TestHistory_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "nia")
	b := f.register(t, "oz")
	prompt := queryTypeID(t, f.db, domain.QueryTypePrompt)
	answer := queryTypeID(t, f.db, domain.QueryTypeAnswer)
	day := time.Date(2024, 10, 29, 0, 0, 0, 0, time.UTC)

	seedQueries(t, f, a, prompt, day.Add(-24*time.Hour), 2)
	seedQueries(t, f, a, answer, day.Add(time.Hour), 3)
	seedQueries(t, f, b, prompt, day.Add(2*time.Hour), 4)

	from, to := day, day.Add(24*time.Hour)
	p, err := f.queries.History(ctx, HistoryFilter{UserID: a, From: &from, To: &to}, 1, 10)
	if err != nil || p.Total != 3 {
		t.Fatalf("date range: total %v err %v", p, err)
	}
	p, _ = f.queries.History(ctx, HistoryFilter{TypeID: prompt}, 1, 10)
	if p.Total != 6 {
		t.Fatalf("type filter: total %d; want 6", p.Total)
	}
	p, _ = f.queries.History(ctx, HistoryFilter{UserID: b, TypeID: answer}, 1, 10)
	if p.Total != 0 {
		t.Fatalf("user+type filter: total %d; want 0", p.Total)
	}
	if _, err := f.queries.History(ctx, HistoryFilter{From: &to, To: &from}, 1, 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("inverted range: want ErrValidation, got %v", err)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 10, 29, 15, 0, 0, 0, time.UTC)
	f.queries.Now = func() time.Time { return now }

	prompt := queryTypeID(t, f.db, domain.QueryTypePrompt)
	answer := queryTypeID(t, f.db, domain.QueryTypeAnswer)
	users := make([]uint, 0, 6)
	for _, name := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		users = append(users, f.register(t, name))
	}
	// u1 asks 6, u2 asks 5, ... u6 asks 1; all today except u1's, two days ago.
	for i, id := range users {
		at := now.Add(-time.Hour)
		if i == 0 {
			at = now.AddDate(0, 0, -2)
		}
		typ := prompt
		if i%2 == 1 {
			typ = answer
		}
		seedQueries(t, f, id, typ, at, 6-i)
	}
	// Outside the daily window.
	seedQueries(t, f, users[5], prompt, now.AddDate(0, 0, -30), 1)

	a, err := f.queries.Analytics(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.TotalQueries != 22 {
		t.Fatalf("total = %d; want 22", a.TotalQueries)
	}
	if len(a.TopUsers) != 5 || a.TopUsers[0].UserID != users[0] || a.TopUsers[0].Count != 6 || a.TopUsers[0].Username != "u1" {
		t.Fatalf("topUsers = %+v", a.TopUsers)
	}
	var byType int64
	for _, tc := range a.QueriesByType {
		byType += tc.Count
	}
	if len(a.QueriesByType) != 2 || byType != 22 {
		t.Fatalf("queriesByType = %+v", a.QueriesByType)
	}

	if len(a.DailyCounts) != 7 {
		t.Fatalf("dailyCounts = %d days; want 7", len(a.DailyCounts))
	}
	if a.DailyCounts[0].Date != "2024-10-23" || a.DailyCounts[6].Date != "2024-10-29" {
		t.Fatalf("window = %s..%s", a.DailyCounts[0].Date, a.DailyCounts[6].Date)
	}
	if a.DailyCounts[6].Count != 15 || a.DailyCounts[4].Count != 6 || a.DailyCounts[5].Count != 0 {
		t.Fatalf("dailyCounts = %+v", a.DailyCounts)
	}

	from := now.Add(-2 * time.Hour)
	ranged, err := f.queries.Analytics(ctx, &from, nil)
	if err != nil {
		t.Fatalf("ranged Analytics: %v", err)
	}
	if ranged.TotalQueries != 15 {
		t.Fatalf("ranged total = %d; want 15", ranged.TotalQueries)
	}
}

func TestListTypesAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	types, err := f.queries.ListTypes(ctx)
	if err != nil || len(types) != 2 {
		t.Fatalf("ListTypes: %+v %v", types, err)
	}

	a := f.register(t, "pat")
	n, newest, err := f.queries.Stats(ctx, a)
	if err != nil || n != 0 || newest != nil {
		t.Fatalf("empty stats: %d %v %v", n, newest, err)
	}
	seedQueries(t, f, a, types[0].ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	n, newest, err = f.queries.Stats(ctx, a)
	if err != nil || n != 2 || newest == nil {
		t.Fatalf("stats: %d %v %v", n, newest, err)
	}
}
