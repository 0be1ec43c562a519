// Package services – QueryService
//
// This file implements the query ledger: asking the assistant about the
// availability of several users, recording the question with its answer and
// targets atomically, and reading the history back in pages or aggregates.
//
// Observability: Create and Analytics are OpenTelemetry-instrumented.
package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/repo"
	"github.com/tbourn/go-calshare-backend/internal/utils"
)

// Pagination defaults shared by every query listing.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

const (
	topUsersLimit   = 5
	dailyWindowDays = 7
	dayLayout       = "2006-01-02"
)

// CreateQueryInput is the payload of Create.
type CreateQueryInput struct {
	RequesterID uint
	TargetIDs   []uint
	Content     string
	TypeID      uint
}

// CreateQueryResult is returned by Create.
type CreateQueryResult struct {
	Query    *domain.Query `json:"query"`
	AIResult string        `json:"aiResult"`
}

// QueryPage is one page of a newest-first listing.
type QueryPage struct {
	Items      []domain.Query `json:"items"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

// HistoryFilter narrows History. Zero values are ignored; To is exclusive.
type HistoryFilter struct {
	UserID uint
	TypeID uint
	From   *time.Time
	To     *time.Time
}

func (f HistoryFilter) repoFilter() repo.QueryFilter {
	var rf repo.QueryFilter
	if f.UserID != 0 {
		id := f.UserID
		rf.UserID = &id
	}
	if f.TypeID != 0 {
		id := f.TypeID
		rf.TypeID = &id
	}
	rf.From, rf.To = f.From, f.To
	return rf
}

// DailyCount is the number of queries created on one UTC day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Analytics summarizes the ledger.
type Analytics struct {
	TotalQueries  int64            `json:"totalQueries"`
	QueriesByType []repo.TypeCount `json:"queriesByType"`
	TopUsers      []repo.UserCount `json:"topUsers"`
	DailyCounts   []DailyCount     `json:"dailyCounts"`
}

// QueryService answers availability questions and keeps their history.
type QueryService struct {
	DB *gorm.DB
	AI ai.Delegate

	// MaxContentRunes caps the question length; 0 disables the cap.
	MaxContentRunes int

	// Now is the clock used for the daily window; nil means time.Now.
	Now func() time.Time
}

// NewQueryService constructs a QueryService.
func NewQueryService(db *gorm.DB, d ai.Delegate) *QueryService {
	return &QueryService{DB: db, AI: d, MaxContentRunes: 4000}
}

func (s *QueryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create validates the request, asks the assistant, and records the query
// with one target row per distinct target user. Nothing is written unless
// the assistant answers and every insert succeeds.
func (s *QueryService) Create(ctx context.Context, in CreateQueryInput) (*CreateQueryResult, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(in.RequesterID)),
			attribute.Int("targets.count", len(in.TargetIDs)),
		),
	)
	defer span.End()

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, validationErr("content is required")
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, validationErr("content must be at most %d characters", s.MaxContentRunes)
	}
	if in.TypeID == 0 {
		return nil, validationErr("typeId is required")
	}
	if len(in.TargetIDs) == 0 {
		return nil, validationErr("userId must be a non-empty array of user ids")
	}
	for _, id := range in.TargetIDs {
		if id == 0 {
			return nil, validationErr("userId must contain positive user ids")
		}
	}
	if _, err := repo.GetQueryType(ctx, s.DB, in.TypeID); err != nil {
		if isNotFound(err) {
			return nil, validationErr("invalid typeId")
		}
		return nil, err
	}

	targets := utils.DedupeIDs(in.TargetIDs)
	n, err := repo.CountUsersByIDs(ctx, s.DB, targets)
	if err != nil {
		return nil, err
	}
	if n != int64(len(targets)) {
		return nil, notFoundErr("one or more target users not found")
	}

	// Requester first, then targets in request order.
	owners := utils.DedupeIDs(append([]uint{in.RequesterID}, targets...))
	cals, err := repo.ListCalendarsByUsers(ctx, s.DB, owners)
	if err != nil {
		return nil, err
	}
	ordered, err := orderCalendars(owners, cals)
	if err != nil {
		return nil, err
	}

	entries := make([]ai.CalendarEntry, 0, len(ordered))
	for _, c := range ordered {
		e := ai.CalendarEntry{UserID: c.UserID, Availability: []byte(c.Availability)}
		if c.User != nil {
			e.Username = c.User.Username
		}
		entries = append(entries, e)
	}

	answer, err := s.AI.AnswerAvailabilityQuery(ctx, content, entries)
	if err != nil {
		span.RecordError(err)
		return nil, upstreamErr(err, "failed to process availability query")
	}

	q := &domain.Query{
		UserID:  in.RequesterID,
		TypeID:  in.TypeID,
		Content: content,
		Result:  &answer,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateQuery(ctx, tx, q); err != nil {
			return err
		}
		return repo.CreateQueryTargets(ctx, tx, q.ID, targets)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("query.id", int64(q.ID)))

	saved, err := repo.GetQuery(ctx, s.DB, q.ID)
	if err != nil {
		return nil, err
	}
	return &CreateQueryResult{Query: saved, AIResult: answer}, nil
}

// Get returns a query with its requester, type and targets.
func (s *QueryService) Get(ctx context.Context, id uint) (*domain.Query, error) {
	q, err := repo.GetQuery(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("query not found")
		}
		return nil, err
	}
	return q, nil
}

// List returns a page of every query.
func (s *QueryService) List(ctx context.Context, page, limit int) (*QueryPage, error) {
	return s.page(ctx, repo.QueryFilter{}, page, limit)
}

// ListByUser returns a page of the queries asked by userID.
func (s *QueryService) ListByUser(ctx context.Context, userID uint, page, limit int) (*QueryPage, error) {
	return s.page(ctx, HistoryFilter{UserID: userID}.repoFilter(), page, limit)
}

// History returns a page of queries matching f.
func (s *QueryService) History(ctx context.Context, f HistoryFilter, page, limit int) (*QueryPage, error) {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, validationErr("startDate must be before endDate")
	}
	return s.page(ctx, f.repoFilter(), page, limit)
}

func (s *QueryService) page(ctx context.Context, f repo.QueryFilter, page, limit int) (*QueryPage, error) {
	page, limit = utils.ClampPage(page, limit, DefaultPageLimit, MaxPageLimit)
	out := &QueryPage{Items: []domain.Query{}, Page: page, Limit: limit}

	total, err := repo.CountQueries(ctx, s.DB, f)
	if err != nil {
		return nil, err
	}
	out.Total = total
	out.TotalPages = utils.TotalPages(total, limit)
	if total == 0 {
		return out, nil
	}

	items, err := repo.ListQueriesPage(ctx, s.DB, f, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	if items != nil {
		out.Items = items
	}
	return out, nil
}

// Stats returns the count and newest timestamp of userID's queries, used for
// conditional responses.
func (s *QueryService) Stats(ctx context.Context, userID uint) (int64, *time.Time, error) {
	return repo.QueriesStats(ctx, s.DB, userID)
}

// ListTypes returns the query types.
func (s *QueryService) ListTypes(ctx context.Context) ([]domain.QueryType, error) {
	return repo.ListQueryTypes(ctx, s.DB)
}

// Analytics aggregates the ledger. The optional range applies to the total,
// the per-type counts and the top requesters; daily counts always cover the
// last seven UTC days including today.
func (s *QueryService) Analytics(ctx context.Context, from, to *time.Time) (*Analytics, error) {
	ctx, span := otel.Tracer("services/QueryService").Start(ctx, "Analytics")
	defer span.End()

	if from != nil && to != nil && !from.Before(*to) {
		return nil, validationErr("startDate must be before endDate")
	}
	f := repo.QueryFilter{From: from, To: to}
	out := &Analytics{}

	today := s.now().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(dailyWindowDays - 1))
	var times []time.Time

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := repo.CountQueries(gctx, s.DB, f)
		out.TotalQueries = n
		return err
	})
	g.Go(func() error {
		rows, err := repo.CountQueriesByType(gctx, s.DB, f)
		out.QueriesByType = rows
		return err
	})
	g.Go(func() error {
		rows, err := repo.TopRequesters(gctx, s.DB, f, topUsersLimit)
		out.TopUsers = rows
		return err
	})
	g.Go(func() error {
		ts, err := repo.QueryTimesSince(gctx, s.DB, since)
		times = ts
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if out.QueriesByType == nil {
		out.QueriesByType = []repo.TypeCount{}
	}
	if out.TopUsers == nil {
		out.TopUsers = []repo.UserCount{}
	}
	out.DailyCounts = bucketByDay(times, since, dailyWindowDays)
	return out, nil
}

// bucketByDay counts times per UTC day for days consecutive days starting at
// since, oldest first. Days without queries are reported with a zero count.
func bucketByDay(times []time.Time, since time.Time, days int) []DailyCount {
	counts := make(map[string]int64, days)
	for _, t := range times {
		counts[t.UTC().Format(dayLayout)]++
	}
	out := make([]DailyCount, 0, days)
	for i := 0; i < days; i++ {
		d := since.AddDate(0, 0, i).Format(dayLayout)
		out = append(out, DailyCount{Date: d, Count: counts[d]})
	}
	return out
}
