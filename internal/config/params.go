package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/open-builders/draw-airdrop-bot/internal/scoring"
)

const (
	FeedMasterchainBlock = "masterchain_block"
	FeedAccountLastTx    = "account_last_tx"

	ReferralAttestedOnly  = "attested_only"
	ReferralPayUnattested = "pay_unattested"
)

// Params are the draw parameters read from the params file before every draw.
type Params struct {
	Scoring           ScoringParams       `yaml:"scoring" validate:"required"`
	Schedule          ScheduleParams      `yaml:"schedule" validate:"required"`
	Oracle            OracleParams        `yaml:"oracle" validate:"required"`
	Rewards           RewardParams        `yaml:"rewards"`
	Attestors         []string            `yaml:"attestors" validate:"dive,required"`
	ExcludedAddresses []string            `yaml:"excluded_addresses" validate:"dive,required"`
	Referral          ReferralParams      `yaml:"referral"`
	SecondaryDraw     SecondaryDrawParams `yaml:"secondary_draw"`

	scoring scoring.Config
}

type ScoringParams struct {
	UnitValue      string       `yaml:"unit_value" validate:"required,numeric"`
	BaseRate       string       `yaml:"base_rate" validate:"omitempty,numeric"`
	Tiers          []TierParams `yaml:"tiers" validate:"dive"`
	UnattestedRate string       `yaml:"unattested_rate" validate:"required,numeric"`
	IncreaseRate   string       `yaml:"increase_rate" validate:"required,numeric"`
	DecreaseRate   string       `yaml:"decrease_rate" validate:"required,numeric"`
	CapFactor      string       `yaml:"cap_factor" validate:"required,numeric"`
}

type TierParams struct {
	Above string `yaml:"above" validate:"required,numeric"`
	Rate  string `yaml:"rate" validate:"required,numeric"`
}

type ScheduleParams struct {
	FirstDrawAt time.Time     `yaml:"first_draw_at" validate:"required"`
	Interval    time.Duration `yaml:"interval" validate:"required,gt=0"`
}

type OracleParams struct {
	Feed          string `yaml:"feed" validate:"required,oneof=masterchain_block account_last_tx"`
	Source        string `yaml:"source" validate:"required_if=Feed account_last_tx"`
	Confirmations uint32 `yaml:"confirmations"`
}

// RewardParams are amounts in base units. Zero amounts produce no payout leg.
type RewardParams struct {
	Principal     RewardPair `yaml:"principal"`
	Bonus         RewardPair `yaml:"bonus"`
	BonusAsset    string     `yaml:"bonus_asset"`
	BalanceWinner string     `yaml:"balance_winner" validate:"omitempty,numeric"`
}

type RewardPair struct {
	Winner   string `yaml:"winner" validate:"omitempty,numeric"`
	Referrer string `yaml:"referrer" validate:"omitempty,numeric"`
}

type ReferralParams struct {
	Policy                string `yaml:"policy" validate:"omitempty,oneof=attested_only pay_unattested"`
	RequireAttestedWinner *bool  `yaml:"require_attested_winner"`
}

type SecondaryDrawParams struct {
	Enabled bool `yaml:"enabled"`
}

// ScoringConfig returns the scoring configuration built when the params were parsed.
func (p *Params) ScoringConfig() scoring.Config {
	return p.scoring
}

// ReferralPolicy returns the configured policy, defaulting to attested_only.
func (p *Params) ReferralPolicy() string {
	if p.Referral.Policy == "" {
		return ReferralAttestedOnly
	}
	return p.Referral.Policy
}

// RequireAttestedWinner defaults to true.
func (p *Params) RequireAttestedWinner() bool {
	if p.Referral.RequireAttestedWinner == nil {
		return true
	}
	return *p.Referral.RequireAttestedWinner
}

// Amount parses an optional reward amount; empty means zero.
func Amount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IsAttestor reports whether addr is one of the configured attestors.
func (p *Params) IsAttestor(addr string) bool {
	for _, a := range p.Attestors {
		if a == addr {
			return true
		}
	}
	return false
}

// IsExcluded reports whether addr never takes part in draws.
func (p *Params) IsExcluded(addr string) bool {
	for _, a := range p.ExcludedAddresses {
		if a == addr {
			return true
		}
	}
	return false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseParams decodes and validates a params document.
func ParseParams(data []byte) (*Params, error) {
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("validate params: %w", err)
	}
	sc, err := p.Scoring.build()
	if err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scoring params: %w", err)
	}
	for _, amount := range []string{p.Rewards.Principal.Winner, p.Rewards.Principal.Referrer,
		p.Rewards.Bonus.Winner, p.Rewards.Bonus.Referrer, p.Rewards.BalanceWinner} {
		if Amount(amount).IsNegative() {
			return nil, fmt.Errorf("reward amounts must not be negative")
		}
	}
	if p.Rewards.BonusAsset == "" && (Amount(p.Rewards.Bonus.Winner).IsPositive() || Amount(p.Rewards.Bonus.Referrer).IsPositive()) {
		return nil, fmt.Errorf("bonus rewards need rewards.bonus_asset")
	}
	p.scoring = sc
	return &p, nil
}

func (s ScoringParams) build() (scoring.Config, error) {
	var (
		cfg scoring.Config
		err error
	)
	parse := func(v, def string) decimal.Decimal {
		if v == "" {
			v = def
		}
		d, perr := decimal.NewFromString(v)
		if perr != nil && err == nil {
			err = fmt.Errorf("scoring value %q: %w", v, perr)
		}
		return d
	}
	cfg.UnitValue = parse(s.UnitValue, "")
	cfg.BaseRate = parse(s.BaseRate, "1")
	cfg.UnattestedRate = parse(s.UnattestedRate, "")
	cfg.IncreaseRate = parse(s.IncreaseRate, "")
	cfg.DecreaseRate = parse(s.DecreaseRate, "")
	cfg.CapFactor = parse(s.CapFactor, "")
	for _, t := range s.Tiers {
		cfg.Tiers = append(cfg.Tiers, scoring.Tier{Above: parse(t.Above, ""), Rate: parse(t.Rate, "")})
	}
	return cfg, err
}

// ParamsLoader re-reads the params file when it changes and keeps the last good version.
type ParamsLoader struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	current *Params
	modTime time.Time
}

// NewParamsLoader loads the params file. The first load must succeed.
func NewParamsLoader(path string, log zerolog.Logger) (*ParamsLoader, error) {
	l := &ParamsLoader{path: path, log: log}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat params file: %w", err)
	}
	p, err := l.read()
	if err != nil {
		return nil, err
	}
	l.current = p
	l.modTime = st.ModTime()
	return l, nil
}

// Current returns the latest valid params, reloading the file if its mtime moved.
func (l *ParamsLoader) Current() *Params {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := os.Stat(l.path)
	if err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("params file unavailable, keeping last good params")
		return l.current
	}
	if st.ModTime().Equal(l.modTime) {
		return l.current
	}
	p, err := l.read()
	if err != nil {
		l.log.Error().Err(err).Str("path", l.path).Msg("invalid params file, keeping last good params")
		l.modTime = st.ModTime()
		return l.current
	}
	l.log.Info().Str("path", l.path).Msg("params reloaded")
	l.current = p
	l.modTime = st.ModTime()
	return l.current
}

func (l *ParamsLoader) read() (*Params, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}
	return ParseParams(data)
}

// StaticParams serves fixed params; used by tests and one-off tools.
type StaticParams struct{ P *Params }

func (s StaticParams) Current() *Params { return s.P }
