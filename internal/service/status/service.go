// Package status builds the read-only status report: live standings, distribution
// statistics and the draw history.
package status

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	"github.com/open-builders/draw-airdrop-bot/internal/config"
	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	dp "github.com/open-builders/draw-airdrop-bot/internal/domain/participant"
	"github.com/open-builders/draw-airdrop-bot/internal/service/scheduler"
)

const topN = 10

type Scorer interface {
	Collect(ctx context.Context, params *config.Params, excluded func(string) bool, refresh bool) ([]scheduler.Scored, error)
}

type DrawStore interface {
	LatestDraw(ctx context.Context) (*dd.Draw, error)
	ListDraws(ctx context.Context, limit, offset int) ([]dd.Draw, error)
	GetDraw(ctx context.Context, id int64) (*dd.Draw, error)
}

type Schedule interface {
	NextDrawAt(ctx context.Context) (time.Time, error)
}

type Participants interface {
	Participant(ctx context.Context, userID int64) (*dp.Participant, error)
}

type ParamsSource interface {
	Current() *config.Params
}

// Report is the public status page.
type Report struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	NextDrawAt   *time.Time         `json:"next_draw_at,omitempty"`
	Participants int                `json:"participants"`
	Addresses    []scheduler.Scored `json:"addresses"`
	TotalBalance decimal.Decimal    `json:"total_balance"`
	TotalPoints  decimal.Decimal    `json:"total_points"`
	GiniBalance  float64            `json:"gini_balance"`
	GiniPoints   float64            `json:"gini_points"`
	TopShare     float64            `json:"top10_points_share"`
	PreviousDraw *dd.Draw           `json:"previous_draw,omitempty"`
}

// UserReport is what one participant sees about their own addresses.
type UserReport struct {
	UserID       int64              `json:"user_id"`
	ReferralCode string             `json:"referral_code"`
	ReferredBy   *string            `json:"referred_by,omitempty"`
	Addresses    []scheduler.Scored `json:"addresses"`
	Points       decimal.Decimal    `json:"points"`
	// Chance is the share of the pool held by the user's addresses.
	Chance     float64    `json:"chance"`
	NextDrawAt *time.Time `json:"next_draw_at,omitempty"`
}

type Service struct {
	scorer       Scorer
	draws        DrawStore
	schedule     Schedule
	participants Participants
	params       ParamsSource
	payoutSource string
	now          func() time.Time
	log          zerolog.Logger
}

func NewService(scorer Scorer, draws DrawStore, schedule Schedule, participants Participants, params ParamsSource, payoutSource string, log zerolog.Logger) *Service {
	return &Service{
		scorer:       scorer,
		draws:        draws,
		schedule:     schedule,
		participants: participants,
		params:       params,
		payoutSource: payoutSource,
		now:          time.Now,
		log:          log,
	}
}

func (s *Service) collect(ctx context.Context) ([]scheduler.Scored, error) {
	params := s.params.Current()
	scored, err := s.scorer.Collect(ctx, params, func(addr string) bool {
		return addr == s.payoutSource || params.IsExcluded(addr)
	}, false)
	if err != nil {
		return nil, apperrors.NewExternalAPIError("balances", err)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		pi, pj := scored[i].Points(), scored[j].Points()
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		return scored[i].Address < scored[j].Address
	})
	return scored, nil
}

func (s *Service) nextDrawAt(ctx context.Context) *time.Time {
	if s.schedule == nil {
		return nil
	}
	next, err := s.schedule.NextDrawAt(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("next draw time unavailable")
		return nil
	}
	return &next
}

// Report scores every address with cached balances. Attestation is not re-resolved.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	scored, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	r := &Report{
		GeneratedAt:  s.now().UTC(),
		NextDrawAt:   s.nextDrawAt(ctx),
		Addresses:    scored,
		TotalBalance: decimal.Zero,
		TotalPoints:  decimal.Zero,
	}
	users := make(map[int64]struct{}, len(scored))
	balances := make([]decimal.Decimal, 0, len(scored))
	points := make([]decimal.Decimal, 0, len(scored))
	for _, sc := range scored {
		users[sc.UserID] = struct{}{}
		balances = append(balances, sc.Balance)
		points = append(points, sc.Points())
		r.TotalBalance = r.TotalBalance.Add(sc.Balance)
		r.TotalPoints = r.TotalPoints.Add(sc.Points())
	}
	r.Participants = len(users)
	r.GiniBalance = Gini(balances)
	r.GiniPoints = Gini(points)
	r.TopShare = TopShare(points, topN)

	if r.PreviousDraw, err = s.draws.LatestDraw(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("latest draw", err)
	}
	return r, nil
}

// UserReport returns the standings of one participant.
func (s *Service) UserReport(ctx context.Context, userID int64) (*UserReport, error) {
	p, err := s.participants.Participant(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotRegistered, "no proven address yet")
	}
	scored, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	ur := &UserReport{
		UserID:       userID,
		ReferralCode: p.ReferralCode,
		ReferredBy:   p.ReferredBy,
		Addresses:    []scheduler.Scored{},
		Points:       decimal.Zero,
		NextDrawAt:   s.nextDrawAt(ctx),
	}
	total := decimal.Zero
	for _, sc := range scored {
		total = total.Add(sc.Points())
		if sc.UserID == userID {
			ur.Addresses = append(ur.Addresses, sc)
			ur.Points = ur.Points.Add(sc.Points())
		}
	}
	if total.IsPositive() {
		ur.Chance, _ = ur.Points.Div(total).Float64()
	}
	return ur, nil
}

// Draws lists past draws, newest first.
func (s *Service) Draws(ctx context.Context, limit, offset int) ([]dd.Draw, error) {
	draws, err := s.draws.ListDraws(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list draws", err)
	}
	if draws == nil {
		draws = []dd.Draw{}
	}
	return draws, nil
}

func (s *Service) Draw(ctx context.Context, id int64) (*dd.Draw, error) {
	d, err := s.draws.GetDraw(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get draw", err)
	}
	if d == nil {
		return nil, apperrors.NewNotFoundError("draw", id)
	}
	return d, nil
}

// Gini returns the Gini coefficient of the values: 0 for perfect equality, approaching 1
// when one value holds everything. Empty or all-zero input yields 0.
func Gini(values []decimal.Decimal) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]decimal.Decimal, n)
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	sum, weighted := decimal.Zero, decimal.Zero
	for i, v := range sorted {
		if v.IsNegative() {
			v = decimal.Zero
		}
		sum = sum.Add(v)
		weighted = weighted.Add(v.Mul(decimal.NewFromInt(int64(i + 1))))
	}
	if !sum.IsPositive() {
		return 0
	}
	nd := decimal.NewFromInt(int64(n))
	g := weighted.Mul(decimal.NewFromInt(2)).Div(nd.Mul(sum)).Sub(nd.Add(decimal.NewFromInt(1)).Div(nd))
	f, _ := g.Float64()
	return f
}

// TopShare returns the share of the total held by the n largest values.
func TopShare(values []decimal.Decimal, n int) float64 {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GreaterThan(sorted[j]) })

	total, top := decimal.Zero, decimal.Zero
	for i, v := range sorted {
		total = total.Add(v)
		if i < n {
			top = top.Add(v)
		}
	}
	if !total.IsPositive() {
		return 0
	}
	f, _ := top.Div(total).Float64()
	return f
}
