package s1_universe

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/redis"
)

// SPAC 판별을 위한 정규식 패턴
var spacPattern = regexp.MustCompile(`(?i)(스팩|SPAC|스펙|\d+호$|제\d+호)`)

// CandidateSource lists eligible stocks ranked by market cap
type CandidateSource interface {
	Candidates(ctx context.Context, q contracts.UniverseQuery) ([]Candidate, error)
}

// Config holds name-based filters applied after the SQL filters
type Config struct {
	ExcludeSPAC  bool `yaml:"exclude_spac"`  // SPAC 제외
	ExcludeAdmin bool `yaml:"exclude_admin"` // 관리종목 제외
}

// Builder selects the top-N market value universe
// ⭐ SSOT: 유니버스 선정은 Builder.FetchUniverse 하나로
type Builder struct {
	source CandidateSource
	cache  *redis.Cache
	config Config
	logger *logger.Logger
}

// NewBuilder creates a new Universe Builder. cache may be nil.
func NewBuilder(source CandidateSource, cache *redis.Cache, config Config, log *logger.Logger) *Builder {
	return &Builder{
		source: source,
		cache:  cache,
		config: config,
		logger: log.WithField("module", "s1_universe"),
	}
}

// FetchUniverse implements contracts.UniverseFetcher.
// 같은 (기준일, 파라미터)는 같은 유니버스 → Redis 캐시
func (b *Builder) FetchUniverse(ctx context.Context, q contracts.UniverseQuery) (*contracts.Universe, error) {
	if q.ReferenceDate.IsZero() {
		return nil, &contracts.ConfigError{Field: "market_value_date", Reason: "required"}
	}
	if q.TopN <= 0 {
		return nil, &contracts.ConfigError{Field: "top_n", Reason: fmt.Sprintf("must be positive, got %d", q.TopN)}
	}
	q.ReferenceDate = contracts.DateOnly(q.ReferenceDate)

	if b.cache == nil {
		return b.build(ctx, q)
	}

	universe, hit, err := redis.GetOrLoad(ctx, b.cache, redis.UniverseKey(q.Key()), redis.TTLLong, func(ctx context.Context) (*contracts.Universe, error) {
		return b.build(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		b.logger.WithField("key", q.Key()).Debug("Universe cache hit")
	}
	return universe, nil
}

func (b *Builder) build(ctx context.Context, q contracts.UniverseQuery) (*contracts.Universe, error) {
	candidates, err := b.source.Candidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get candidates: %w", err)
	}

	universe := &contracts.Universe{
		ReferenceDate: q.ReferenceDate,
		TopN:          q.TopN,
		Members:       make([]contracts.UniverseMember, 0, q.TopN),
	}

	excluded := make(map[string]string)
	for _, c := range candidates {
		if len(universe.Members) == q.TopN {
			break
		}
		if reason := b.checkExclusion(c); reason != "" {
			excluded[c.Code] = reason
			continue
		}

		m := contracts.UniverseMember{
			Code:       c.Code,
			Name:       c.Name,
			Market:     c.Market,
			Industry:   c.Sector,
			DelistDate: c.DelistDate,
			MarketCap:  c.MarketCap,
			Rank:       len(universe.Members) + 1,
		}
		if c.ListDate != nil {
			m.ListDate = contracts.DateOnly(*c.ListDate)
		}
		universe.Members = append(universe.Members, m)
	}

	if len(universe.Members) == 0 {
		return nil, &contracts.EmptyUniverseError{ReferenceDate: q.ReferenceDate}
	}

	b.logger.WithFields(map[string]interface{}{
		"reference_date": q.ReferenceDate.Format("2006-01-02"),
		"top_n":          q.TopN,
		"selected":       len(universe.Members),
		"candidates":     len(candidates),
		"excluded":       len(excluded),
	}).Info("Universe selected")

	if len(universe.Members) < q.TopN {
		b.logger.WithField("selected", len(universe.Members)).Warn("Fewer eligible stocks than top_n")
	}

	return universe, nil
}

// checkExclusion checks if a stock should be excluded and returns the reason
func (b *Builder) checkExclusion(c Candidate) string {
	if b.config.ExcludeAdmin && isAdminStock(c.Name) {
		return "관리종목"
	}
	if b.config.ExcludeSPAC && isSPAC(c.Name) {
		return "SPAC"
	}
	return ""
}

// isSPAC checks if a stock is a SPAC based on name pattern
func isSPAC(name string) bool {
	return spacPattern.MatchString(name)
}

// isAdminStock checks if a stock is under administrative supervision
// 관리종목 패턴: "관리" 또는 "*" 표시
func isAdminStock(name string) bool {
	for _, pattern := range []string{"관리", "*"} {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
