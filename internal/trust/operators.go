package trust

import (
	"regexp"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/dagbolade/trust-proxy/internal/policy"
)

var (
	globCache  sync.Map // pattern -> glob.Glob
	regexCache sync.Map // pattern -> *regexp.Regexp
)

// lookup extracts the value at path from a JSON document. An empty path
// selects the whole document, raw when it is not JSON.
func lookup(doc, path string) (string, bool) {
	if path == "" {
		if gjson.Valid(doc) {
			return gjson.Parse(doc).String(), true
		}
		return doc, true
	}
	if !gjson.Valid(doc) {
		return "", false
	}
	res := gjson.Get(doc, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

func matches(op policy.Operator, actual, expected string) bool {
	switch op {
	case policy.OpEqual:
		return actual == expected
	case policy.OpNotEqual:
		return actual != expected
	case policy.OpContains:
		return strings.Contains(actual, expected)
	case policy.OpNotContains:
		return !strings.Contains(actual, expected)
	case policy.OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case policy.OpEndsWith:
		return strings.HasSuffix(actual, expected)
	case policy.OpRegex:
		re, err := compileRegex(expected)
		if err != nil {
			log.Warn().Err(err).Str("pattern", expected).Msg("invalid regex in policy")
			return false
		}
		return re.MatchString(actual)
	case policy.OpGlob:
		g, err := compileGlob(expected)
		if err != nil {
			log.Warn().Err(err).Str("pattern", expected).Msg("invalid glob in policy")
			return false
		}
		return g.Match(actual)
	default:
		return false
	}
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

func compileGlob(pattern string) (glob.Glob, error) {
	if v, ok := globCache.Load(pattern); ok {
		return v.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, g)
	return g, nil
}
