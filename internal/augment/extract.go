package augment

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	placeRe  = regexp.MustCompile(`\b(?:in|at|for)\s+(\p{Lu}[\p{L}.'-]*(?:\s+\p{Lu}[\p{L}.'-]*)*)`)
	amountRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	isoRe    = regexp.MustCompile(`(?i)\b(usd|eur|gbp|inr|jpy|aud|cad|chf|cny|sgd|aed|nzd|hkd|sek|nok|krw|zar|brl|mxn|pkr|bdt)\b`)
	wordRe   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// coinIDs maps names and tickers to CoinGecko ids.
var coinIDs = map[string]string{
	"bitcoin":  "bitcoin",
	"btc":      "bitcoin",
	"ethereum": "ethereum",
	"eth":      "ethereum",
	"solana":   "solana",
	"sol":      "solana",
	"dogecoin": "dogecoin",
	"doge":     "dogecoin",
	"litecoin": "litecoin",
	"ltc":      "litecoin",
	"ripple":   "ripple",
	"xrp":      "ripple",
	"cardano":  "cardano",
	"ada":      "cardano",
}

var defaultQuotes = []string{"USD", "EUR", "GBP", "INR"}

// place extracts a capitalized place name following in/at/for.
func place(text string) string {
	m := placeRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ".?!,")
}

// coins returns the CoinGecko ids mentioned in text, in order, without duplicates.
func coins(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		id, ok := coinIDs[w]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		ids = []string{"bitcoin"}
	}
	return ids
}

// currencyPair reads "100 usd to inr" style requests. With a single code the
// quotes default to a few major currencies.
func currencyPair(text string) (base string, quotes []string, amount float64) {
	amount = 1
	if m := amountRe.FindString(text); m != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64); err == nil && v > 0 {
			amount = v
		}
	}

	var codes []string
	for _, c := range isoRe.FindAllString(text, -1) {
		codes = append(codes, strings.ToUpper(c))
	}

	switch len(codes) {
	case 0:
		return "USD", without(defaultQuotes, "USD"), amount
	case 1:
		return codes[0], without(defaultQuotes, codes[0]), amount
	default:
		return codes[0], without(dedupe(codes[1:]), codes[0]), amount
	}
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
