package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const isoCodes = `usd|eur|gbp|inr|jpy|aud|cad|chf|cny|sgd|aed|nzd|hkd|sek|nok|krw|zar|brl|mxn|pkr|bdt`

// DefaultRules is the built-in pattern list. Earlier rules shadow later ones:
// a coding question that mentions the weather is answered directly.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "image_generation",
			Intent:  ImageGeneration,
			Pattern: `(?i)\b(generate|create|draw|make|paint|design|render)\b.{0,40}?\b(image|picture|photo|drawing|illustration|logo|artwork|wallpaper)s?\b`,
		},
		{
			Name:    "deep_search",
			Intent:  DeepSearch,
			Pattern: `(?i)\b(deep (search|research|dive)|in-depth research|research thoroughly|comprehensive (research|report|analysis))\b`,
		},
		{
			Name:    "web_search",
			Intent:  WebSearch,
			Pattern: `(?i)\b(search (the web|online|the internet|for)|google it|look (it )?up online|find (me )?sources)\b`,
		},
		{
			Name:    "code",
			Intent:  Direct,
			Pattern: "(?i)(```|\\b(code|function|compile|debug|stack ?trace|regex|sql query|python|javascript|typescript|golang|rust|java)\\b)",
		},
		{
			Name:    "weather",
			Intent:  Weather,
			Pattern: `(?i)\b(weather|forecast|temperature|humidity|raining|snowing|wind speed)\b`,
		},
		{
			Name:    "crypto",
			Intent:  Crypto,
			Pattern: `(?i)\b(bitcoin|btc|ethereum|eth|solana|dogecoin|doge|litecoin|ripple|xrp|crypto(currency|currencies)?)\b`,
		},
		{
			Name:    "stocks",
			Intent:  Stocks,
			Pattern: `(?i)\b(stocks?|share price|nasdaq|nyse|sensex|nifty|dow jones|s&p 500|market cap)\b`,
		},
		{
			Name:    "cricket",
			Intent:  Cricket,
			Pattern: `(?i)\b(cricket|ipl|odi|t20|test match|wickets?|innings)\b`,
		},
		{
			Name:    "currency",
			Intent:  Currency,
			Pattern: `(?i)\b(exchange rate|forex)\b|\b(` + isoCodes + `)\s*(to|in|/)\s*(` + isoCodes + `)\b`,
		},
		{
			Name:    "news",
			Intent:  News,
			Pattern: `(?i)\b(news|headlines?|breaking|latest (updates?|developments))\b`,
		},
		{
			Name:    "time",
			Intent:  Time,
			Pattern: `(?i)\b(what time|current time|time (is it )?in|time ?zone)\b`,
		},
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule list from a YAML file of the form
//
//	rules:
//	  - name: weather
//	    intent: weather
//	    pattern: '(?i)\bweather\b'
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules %s: no rules defined", path)
	}
	return f.Rules, nil
}

// Load builds a classifier from a rule file, or the defaults when path is empty.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return New(rules)
}
