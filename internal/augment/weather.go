package augment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type geoResult struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

type geoResponse struct {
	Results []geoResult `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

func (a *Augmenter) geocode(ctx context.Context, name string) (geoResult, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var resp geoResponse
	if err := a.getJSON(ctx, a.cfg.Endpoints.Geocoding+"/v1/search?"+q.Encode(), &resp); err != nil {
		return geoResult{}, err
	}
	if len(resp.Results) == 0 {
		return geoResult{}, fmt.Errorf("unknown place %q", name)
	}
	return resp.Results[0], nil
}

func (a *Augmenter) weather(ctx context.Context, text string) (string, error) {
	city := place(text)
	if city == "" {
		city = a.cfg.DefaultCity
	}
	loc, err := a.geocode(ctx, city)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code")
	q.Set("timezone", "auto")

	var resp forecastResponse
	if err := a.getJSON(ctx, a.cfg.Endpoints.Forecast+"/v1/forecast?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	c := resp.Current

	return fmt.Sprintf("%s: %s, %.1f°C, humidity %.0f%%, wind %.1f km/h (observed %s local time)",
		placeLabel(loc), describeWeather(c.WeatherCode), c.Temperature, c.Humidity, c.WindSpeed, c.Time), nil
}

func (a *Augmenter) localTime(ctx context.Context, text string) (string, error) {
	city := place(text)
	if city == "" {
		now := a.now().UTC()
		return fmt.Sprintf("UTC: %s (%s)", now.Format("15:04"), now.Format("Monday, 2 January 2006")), nil
	}
	loc, err := a.geocode(ctx, city)
	if err != nil {
		return "", err
	}
	zone, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return "", fmt.Errorf("timezone %q: %w", loc.Timezone, err)
	}
	now := a.now().In(zone)
	return fmt.Sprintf("%s (%s): %s on %s", placeLabel(loc), loc.Timezone,
		now.Format("15:04"), now.Format("Monday, 2 January 2006")), nil
}

func placeLabel(g geoResult) string {
	if g.Country == "" || strings.EqualFold(g.Country, g.Name) {
		return g.Name
	}
	return g.Name + ", " + g.Country
}

// describeWeather maps WMO weather interpretation codes.
func describeWeather(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}
