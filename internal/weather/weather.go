// Package weather aggregates up to three weather-related providers into a
// single report: current conditions (required), UV index and astronomy
// (both optional).
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"lifeos/internal/config"
	"lifeos/internal/logging"
	"lifeos/internal/model"
)

// ErrMissingAPIKey marks a configuration problem, distinct from transient
// fetch failures. Wrapped errors name the missing key.
var ErrMissingAPIKey = errors.New("missing API key")

// Default provider endpoints.
const (
	defaultConditionsURL = "https://api.openweathermap.org/data/2.5/weather"
	defaultUVURL         = "https://api.openweathermap.org/data/2.5/uvi"
	defaultAstronomyURL  = "https://api.ipgeolocation.io/astronomy"
)

// Display icon vocabulary. Providers use large condition code sets; the
// dashboard only distinguishes these.
const (
	IconSun   = "sun"
	IconCloud = "cloud"
	IconRain  = "rain"
	IconSnow  = "snow"
	IconStorm = "storm"
	IconFog   = "fog"
	IconMoon  = "moon"
)

// Client fetches and merges the provider responses.
type Client struct {
	cfg  config.WeatherConfig
	http *http.Client
}

// NewClient creates a weather client from the widget configuration.
func NewClient(cfg config.WeatherConfig) *Client {
	if cfg.ConditionsURL == "" {
		cfg.ConditionsURL = defaultConditionsURL
	}
	if cfg.UVURL == "" {
		cfg.UVURL = defaultUVURL
	}
	if cfg.AstronomyURL == "" {
		cfg.AstronomyURL = defaultAstronomyURL
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// conditionsPayload is the shape of the primary provider response.
type conditionsPayload struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		ID   int    `json:"id"`
		Main string `json:"main"`
	} `json:"weather"`
}

type uvPayload struct {
	Value float64 `json:"value"`
}

type astronomyPayload struct {
	Results struct {
		Sunrise time.Time `json:"sunrise"`
		Sunset  time.Time `json:"sunset"`
	} `json:"results"`
}

// Fetch calls the configured providers in parallel and merges the results.
// A missing or failing optional provider only omits its fields; a missing
// primary key or failing primary provider fails the whole call.
func (c *Client) Fetch(ctx context.Context) (model.WeatherReport, error) {
	if c.cfg.ConditionsKey == "" {
		return model.WeatherReport{}, fmt.Errorf("weather conditions: %w: set weather.conditions_key or LIFEOS_WEATHER_KEY", ErrMissingAPIKey)
	}

	var (
		cond  conditionsPayload
		uv    *uvPayload
		astro *astronomyPayload
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.getJSON(ctx, c.cfg.ConditionsURL, c.cfg.ConditionsKey, &cond); err != nil {
			return fmt.Errorf("weather conditions: %w", err)
		}
		return nil
	})

	if c.cfg.UVKey != "" {
		g.Go(func() error {
			var p uvPayload
			if err := c.getJSON(ctx, c.cfg.UVURL, c.cfg.UVKey, &p); err != nil {
				logging.Warn("uv provider failed, omitting uv index", "reason", err.Error())
				return nil
			}
			uv = &p
			return nil
		})
	}

	if c.cfg.AstronomyKey != "" {
		g.Go(func() error {
			var p astronomyPayload
			if err := c.getJSON(ctx, c.cfg.AstronomyURL, c.cfg.AstronomyKey, &p); err != nil {
				logging.Warn("astronomy provider failed, omitting sunrise/sunset", "reason", err.Error())
				return nil
			}
			astro = &p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return model.WeatherReport{}, err
	}

	report := model.WeatherReport{
		Location:    cond.Name,
		Temperature: cond.Main.Temp,
		FeelsLike:   cond.Main.FeelsLike,
		Humidity:    cond.Main.Humidity,
		FetchedAt:   time.Now(),
	}
	if len(cond.Weather) > 0 {
		report.Condition = cond.Weather[0].Main
		report.Icon = iconForCode(cond.Weather[0].ID)
	} else {
		report.Icon = IconCloud
	}
	if uv != nil {
		v := uv.Value
		report.UVIndex = &v
	}
	if astro != nil {
		sr := astro.Results.Sunrise
		ss := astro.Results.Sunset
		report.Sunrise = &sr
		report.Sunset = &ss
	}
	return report, nil
}

func (c *Client) getJSON(ctx context.Context, baseURL, key string, out any) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(c.cfg.Latitude, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(c.cfg.Longitude, 'f', 4, 64))
	q.Set("appid", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// iconForCode maps the primary provider's condition code groups to the
// display vocabulary. Codes follow the usual convention: 2xx thunderstorm,
// 3xx drizzle, 5xx rain, 6xx snow, 7xx atmosphere, 800 clear, 80x clouds.
func iconForCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return IconStorm
	case code >= 300 && code < 600:
		return IconRain
	case code >= 600 && code < 700:
		return IconSnow
	case code >= 700 && code < 800:
		return IconFog
	case code == 800:
		return IconSun
	default:
		return IconCloud
	}
}
