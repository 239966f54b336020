package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
)

// MaxIdentLen is the identifier limit shared by postgres (NAMEDATALEN-1) and our sqlite naming
const MaxIdentLen = 63

const tagDateLayout = "20060102"

// Params are the selection parameters that identify a run's destination
type Params struct {
	MarketValueDate time.Time
	Start           time.Time
	End             time.Time
	TopN            int
	Suffix          string // 선택: 팩터 테이블 등 변형 구분
}

// Target is the resolved, deterministic destination of a run
// ⭐ SSOT: 적재 대상 이름은 여기서만 생성
type Target struct {
	Dataset string // 스키마 (template 치환 결과)
	Tag     string // mv<YYYYMMDD>_s<YYYYMMDD>_e<YYYYMMDD>_top<N>[_suffix]
	Params  Params
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// Resolve substitutes template placeholders and encodes every parameter into the tag.
//
// Supported placeholders: {top_n}, {_top_n}, {market_value_date}, {start}, {end}.
// Unknown or empty placeholders, a non-positive top_n and missing dates are ConfigErrors.
func Resolve(template string, p Params) (Target, error) {
	if strings.TrimSpace(template) == "" {
		return Target{}, &contracts.ConfigError{Field: "dataset", Reason: "template is empty"}
	}
	if p.TopN <= 0 {
		return Target{}, &contracts.ConfigError{Field: "top_n", Reason: fmt.Sprintf("must be positive, got %d", p.TopN)}
	}
	if p.MarketValueDate.IsZero() {
		return Target{}, &contracts.ConfigError{Field: "market_value_date", Reason: "required"}
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return Target{}, &contracts.ConfigError{Field: "start/end", Reason: "price range is required"}
	}
	if p.End.Before(p.Start) {
		return Target{}, &contracts.ConfigError{Field: "start/end", Reason: "end is before start"}
	}

	values := map[string]string{
		"top_n":             strconv.Itoa(p.TopN),
		"_top_n":            strconv.Itoa(p.TopN),
		"market_value_date": p.MarketValueDate.Format(tagDateLayout),
		"start":             p.Start.Format(tagDateLayout),
		"end":               p.End.Format(tagDateLayout),
	}

	var unknown []string
	name := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok {
			unknown = append(unknown, m)
			return m
		}
		return v
	})
	if len(unknown) > 0 {
		return Target{}, &contracts.ConfigError{
			Field:  "dataset",
			Reason: fmt.Sprintf("unknown placeholder(s) %s in %q", strings.Join(unknown, ", "), template),
		}
	}
	if strings.ContainsAny(name, "{}") {
		return Target{}, &contracts.ConfigError{Field: "dataset", Reason: fmt.Sprintf("unbalanced braces in %q", template)}
	}

	tag := fmt.Sprintf("mv%s_s%s_e%s_top%d",
		values["market_value_date"], values["start"], values["end"], p.TopN)
	if s := suffixTag(p.Suffix); s != "" {
		tag += "_" + s
	}

	return Target{Dataset: Ident(name), Tag: tag, Params: p}, nil
}

// Table returns the tagged table name for a base table (fact_price, dim_universe, ...)
func (t Target) Table(base string) string {
	return Ident(base + "_" + t.Tag)
}

// ID is the single identifier of the run destination
func (t Target) ID() string {
	return t.Dataset + "." + t.Tag
}

// FileTag is embedded in local snapshot names so a file maps back to its warehouse tables
func (t Target) FileTag() string {
	return t.Tag
}

// FileName returns <kind>_<tag>.<ext>
func (t Target) FileName(kind, ext string) string {
	return fmt.Sprintf("%s_%s.%s", sanitize(kind), t.FileTag(), strings.TrimPrefix(ext, "."))
}

// WithSuffix returns the target for a variant of the same run (e.g. factor tables)
func (t Target) WithSuffix(suffix string) Target {
	p := t.Params
	p.Suffix = suffix
	out := t
	out.Params = p
	if old := suffixTag(t.Params.Suffix); old != "" {
		out.Tag = strings.TrimSuffix(t.Tag, "_"+old)
	}
	if s := suffixTag(suffix); s != "" {
		out.Tag += "_" + s
	}
	return out
}

// Ident normalises a name into a safe SQL identifier: lowercase [a-z0-9_],
// not starting with a digit, at most MaxIdentLen bytes. Long names keep a
// readable prefix and a sha256 tail so distinct inputs stay distinct.
func Ident(name string) string {
	s := sanitize(name)
	if s == "" {
		s = "_"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "t_" + s
	}
	if len(s) <= MaxIdentLen {
		return s
	}

	sum := sha256.Sum256([]byte(s))
	tail := hex.EncodeToString(sum[:])[:8]
	return s[:MaxIdentLen-len(tail)-1] + "_" + tail
}

// suffixTag keeps a suffix readable in the tag. A suffix that is not already
// [a-z0-9_] gets a sha256 tail so "Value-Q1" and "value_q1" stay distinct.
func suffixTag(suffix string) string {
	s := sanitize(suffix)
	if s == "" || s == suffix {
		return s
	}
	sum := sha256.Sum256([]byte(suffix))
	return s + "_" + hex.EncodeToString(sum[:])[:8]
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
