package augment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

type erResponse struct {
	Result         string             `json:"result"`
	BaseCode       string             `json:"base_code"`
	TimeLastUpdate string             `json:"time_last_update_utc"`
	Rates          map[string]float64 `json:"rates"`
	ErrorType      string             `json:"error-type"`
}

func (a *Augmenter) crypto(ctx context.Context, text string) (string, error) {
	ids := coins(text)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	var resp map[string]map[string]float64
	if err := a.getJSON(ctx, a.cfg.Endpoints.CoinGecko+"/api/v3/simple/price?"+q.Encode(), &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, id := range ids {
		quote, ok := resp[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: $%.2f USD (24h change %+.2f%%)\n", id, quote["usd"], quote["usd_24h_change"])
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no prices for %s", strings.Join(ids, ","))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *Augmenter) currency(ctx context.Context, text string) (string, error) {
	base, quotes, amount := currencyPair(text)

	var resp erResponse
	if err := a.getJSON(ctx, a.cfg.Endpoints.ExchangeRate+"/v6/latest/"+url.PathEscape(base), &resp); err != nil {
		return "", err
	}
	if resp.Result != "success" {
		return "", fmt.Errorf("exchange rate lookup failed: %s", resp.ErrorType)
	}

	var b strings.Builder
	for _, q := range quotes {
		rate, ok := resp.Rates[q]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%g %s = %.4f %s (rate %.6f)\n", amount, base, amount*rate, q, rate)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no rates from %s to %s", base, strings.Join(quotes, ","))
	}
	fmt.Fprintf(&b, "Rates last updated %s", resp.TimeLastUpdate)
	return b.String(), nil
}
