package matching

import (
	"fmt"
	"strconv"

	"github.com/whisper/pairbot/internal/config"
)

// Predicate decides whether two waiting users may be paired. a is always the
// user who entered the pool first.
type Predicate func(a, b Profile) bool

// ModePredicate pairs users who picked the same value for key.
func ModePredicate(key string) Predicate {
	return func(a, b Profile) bool {
		v := a.Attr(key)
		return v != "" && v == b.Attr(key)
	}
}

// MutualKeys names the attributes read by MutualPredicate.
type MutualKeys struct {
	Gender  string
	Seeking string
	Age     string
	MinAge  string // optional
	Any     string // seeking value that accepts every gender
}

// MutualPredicate pairs users who each seek the other's gender and each
// satisfy the other's minimum age.
func MutualPredicate(k MutualKeys) Predicate {
	seeks := func(x, y Profile) bool {
		want := x.Attr(k.Seeking)
		if want == "" {
			return false
		}
		if k.Any != "" && want == k.Any {
			return true
		}
		return want == y.Attr(k.Gender)
	}
	oldEnough := func(x, y Profile) bool {
		if k.MinAge == "" {
			return true
		}
		return number(y.Attr(k.Age)) >= number(x.Attr(k.MinAge))
	}
	return func(a, b Profile) bool {
		return seeks(a, b) && seeks(b, a) && oldEnough(a, b) && oldEnough(b, a)
	}
}

// PredicateFromConfig builds the configured predicate.
func PredicateFromConfig(cfg config.MatchingConfig) (Predicate, error) {
	switch cfg.Predicate {
	case config.PredicateMode:
		return ModePredicate(cfg.ModeKey), nil
	case config.PredicateMutual:
		return MutualPredicate(MutualKeys{
			Gender:  cfg.GenderKey,
			Seeking: cfg.SeekingKey,
			Age:     cfg.AgeKey,
			MinAge:  cfg.MinAgeKey,
			Any:     cfg.AnyValue,
		}), nil
	default:
		return nil, fmt.Errorf("matching: unknown predicate %q", cfg.Predicate)
	}
}

// number parses an attribute as an integer; missing or malformed is 0.
func number(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
