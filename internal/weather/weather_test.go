package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"lifeos/internal/config"
)

func conditionsHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `{"name":"Berlin","main":{"temp":21.5,"feels_like":20.1,"humidity":60},"weather":[{"id":500,"main":"Rain"}]}`)
}

func TestFetchMergesAllProviders(t *testing.T) {
	cond := httptest.NewServer(http.HandlerFunc(conditionsHandler))
	defer cond.Close()
	uv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":4.2}`)
	}))
	defer uv.Close()
	astro := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"sunrise":"2024-06-07T04:48:00Z","sunset":"2024-06-07T19:23:00Z"}}`)
	}))
	defer astro.Close()

	c := NewClient(config.WeatherConfig{
		ConditionsKey: "ck",
		UVKey:         "uk",
		AstronomyKey:  "ak",
		ConditionsURL: cond.URL,
		UVURL:         uv.URL,
		AstronomyURL:  astro.URL,
	})

	report, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if report.Location != "Berlin" || report.Temperature != 21.5 {
		t.Errorf("unexpected conditions: %+v", report)
	}
	if report.Icon != IconRain {
		t.Errorf("Icon = %s, want %s", report.Icon, IconRain)
	}
	if report.UVIndex == nil || *report.UVIndex != 4.2 {
		t.Errorf("UVIndex = %v, want 4.2", report.UVIndex)
	}
	if report.Sunrise == nil || report.Sunset == nil {
		t.Error("expected sunrise/sunset from astronomy provider")
	}
}

func TestFetchOmitsOptionalFieldsWithoutKeys(t *testing.T) {
	cond := httptest.NewServer(http.HandlerFunc(conditionsHandler))
	defer cond.Close()

	c := NewClient(config.WeatherConfig{
		ConditionsKey: "ck",
		ConditionsURL: cond.URL,
	})

	report, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if report.UVIndex != nil || report.Sunrise != nil || report.Sunset != nil {
		t.Error("optional fields should be omitted when keys are missing")
	}
}

func TestFetchToleratesOptionalProviderFailure(t *testing.T) {
	cond := httptest.NewServer(http.HandlerFunc(conditionsHandler))
	defer cond.Close()
	uv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer uv.Close()

	c := NewClient(config.WeatherConfig{
		ConditionsKey: "ck",
		UVKey:         "uk",
		ConditionsURL: cond.URL,
		UVURL:         uv.URL,
	})

	report, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("optional provider failure must not fail the call: %v", err)
	}
	if report.UVIndex != nil {
		t.Error("UVIndex should be omitted when the UV provider fails")
	}
	if report.Location != "Berlin" {
		t.Errorf("conditions missing: %+v", report)
	}
}

func TestFetchMissingPrimaryKey(t *testing.T) {
	c := NewClient(config.WeatherConfig{})

	_, err := c.Fetch(context.Background())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestFetchPrimaryFailureFailsCall(t *testing.T) {
	cond := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer cond.Close()

	c := NewClient(config.WeatherConfig{
		ConditionsKey: "ck",
		ConditionsURL: cond.URL,
	})

	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected error when the primary provider fails")
	}
}

func TestIconForCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{210, IconStorm},
		{301, IconRain},
		{502, IconRain},
		{601, IconSnow},
		{741, IconFog},
		{800, IconSun},
		{803, IconCloud},
	}
	for _, tc := range cases {
		if got := iconForCode(tc.code); got != tc.want {
			t.Errorf("iconForCode(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}
