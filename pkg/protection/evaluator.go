// Package protection evaluates package protection rules against a push or
// delete.
package protection

import (
	"fmt"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/registrygate/pkg/access"
)

const (
	DefaultPatternCacheSize = 1024
	DefaultPatternCacheTTL  = 10 * time.Minute
)

// Result is the outcome of a protection check
type Result int

const (
	Allowed Result = iota
	Protected
)

func (r Result) String() string {
	if r == Protected {
		return "protected"
	}
	return "allowed"
}

// Verdict is a Result plus the rule that decided it
type Verdict struct {
	Result Result
	Rule   *access.ProtectionRule // nil when Allowed
	Err    error                  // set when a rule pattern failed to compile
}

// Evaluator matches package names against rule patterns. Compiled patterns
// are shared between requests.
type Evaluator struct {
	patterns *lru.LRU[string, *regexp.Regexp]
}

// NewEvaluator creates an evaluator. Zero values select the defaults.
func NewEvaluator(cacheSize int, ttl time.Duration) *Evaluator {
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultPatternCacheTTL
	}
	return &Evaluator{
		patterns: lru.NewLRU[string, *regexp.Regexp](cacheSize, nil, ttl),
	}
}

// Applies reports whether protection rules are consulted for an action.
// Reads are never protected.
func Applies(action access.Action) bool {
	return action == access.ActionWrite || action == access.ActionDelete
}

// Evaluate checks rules for packageName. The first matching rule the
// principal does not satisfy makes the result Protected.
func (e *Evaluator) Evaluate(rules []access.ProtectionRule, packageName string, action access.Action, p access.Principal, grant access.Grant) Verdict {
	if !Applies(action) {
		return Verdict{Result: Allowed}
	}

	for i := range rules {
		rule := &rules[i]
		minimum, ok := rule.MinimumFor(action)
		if !ok {
			continue
		}

		re, err := e.compile(rule.NamePattern)
		if err != nil {
			// an unusable rule protects everything it could have matched
			return Verdict{Result: Protected, Rule: rule, Err: err}
		}
		if !re.MatchString(packageName) {
			continue
		}

		if !satisfies(p, grant, minimum) {
			return Verdict{Result: Protected, Rule: rule}
		}
	}
	return Verdict{Result: Allowed}
}

func satisfies(p access.Principal, grant access.Grant, minimum access.AccessLevel) bool {
	if _, ok := p.(*access.DeployTokenPrincipal); ok {
		return minimum < access.LevelMaintainer
	}
	if minimum >= access.LevelAdmin {
		user, ok := p.(*access.UserPrincipal)
		return ok && user.IsActiveAdmin()
	}
	return grant.Level >= minimum
}

// compile returns the anchored pattern, cached
func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid protection pattern %q: %w", pattern, err)
	}
	e.patterns.Add(pattern, re)
	return re, nil
}

// ValidatePattern reports whether pattern can be used in a rule
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	if _, err := regexp.Compile("^(?:" + pattern + ")$"); err != nil {
		return fmt.Errorf("invalid protection pattern %q: %w", pattern, err)
	}
	return nil
}
