// Package intent routes a chat message to an answer path using an ordered
// list of patterns. The first matching rule wins.
package intent

import (
	"fmt"
	"regexp"

	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

// Intent is an answer path.
type Intent string

const (
	Direct          Intent = "direct"
	Weather         Intent = "weather"
	Crypto          Intent = "crypto"
	Stocks          Intent = "stocks"
	News            Intent = "news"
	Cricket         Intent = "cricket"
	Currency        Intent = "currency"
	Time            Intent = "time"
	WebSearch       Intent = "web_search"
	DeepSearch      Intent = "deep_search"
	ImageGeneration Intent = "image_generation"
	Vision          Intent = "vision"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case Direct, Weather, Crypto, Stocks, News, Cricket, Currency, Time,
		WebSearch, DeepSearch, ImageGeneration, Vision:
		return true
	}
	return false
}

// RealTime reports whether the intent is answered with a live data lookup.
func (i Intent) RealTime() bool {
	switch i {
	case Weather, Crypto, Stocks, News, Cricket, Currency, Time:
		return true
	}
	return false
}

// Rule maps a pattern to an intent.
type Rule struct {
	Name    string `yaml:"name"`
	Intent  Intent `yaml:"intent"`
	Pattern string `yaml:"pattern"`
}

// Result is a classification.
type Result struct {
	Intent Intent
	// Rule names the rule that matched, "vision" for image input and
	// "default" when nothing matched.
	Rule string
	// Match is the matched text.
	Match string
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Classifier evaluates rules in order.
type Classifier struct {
	rules []compiledRule
}

// New compiles rules. Order is preserved.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if !r.Intent.Valid() || r.Intent == Vision {
			return nil, fmt.Errorf("rule %d (%s): unsupported intent %q", i, r.Name, r.Intent)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %d (%s): empty pattern", i, r.Name)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		if r.Name == "" {
			r.Name = string(r.Intent)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, re: re})
	}
	return c, nil
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Rules returns the rules in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Rule
	}
	return out
}

// Classify resolves the intent of a user message. A message carrying images
// is always routed to vision.
func (c *Classifier) Classify(text string, hasImages bool) Result {
	res := c.classify(text, hasImages)
	metrics.IntentsTotal.WithLabelValues(string(res.Intent), res.Rule).Inc()
	return res
}

func (c *Classifier) classify(text string, hasImages bool) Result {
	if hasImages {
		return Result{Intent: Vision, Rule: "vision"}
	}
	for _, r := range c.rules {
		if m := r.re.FindString(text); m != "" {
			return Result{Intent: r.Intent, Rule: r.Name, Match: m}
		}
	}
	return Result{Intent: Direct, Rule: "default"}
}
