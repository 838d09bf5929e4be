package mediation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters/sample"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/metrics"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/storage"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/store"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/breaker"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// recordingSink collects published events
type recordingSink struct {
	mu     sync.Mutex
	events []adapters.Event
}

func (s *recordingSink) Publish(_ context.Context, ev adapters.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []adapters.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]adapters.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) last() adapters.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

// stubAdapter serves a fixed interstitial through a real HTTP request
type stubAdapter struct {
	exclusive  bool
	showEvents []adapters.EventType
	initErr    error
}

func (a *stubAdapter) Initialize(_ context.Context, _ []adapters.ServerParameters) error {
	return a.initErr
}

func (a *stubAdapter) MakeRequests(req *adapters.AdRequest, extra *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	if req.ServerParameters.Get("placement") == "" {
		return nil, []error{adapters.NewInvalidServerParametersError("stub", "placement")}
	}
	return []*adapters.RequestData{{Method: http.MethodPost, URI: extra.Endpoint}}, nil
}

func (a *stubAdapter) MakeAds(_ *adapters.AdRequest, resp *adapters.ResponseData) (*adapters.AdResponse, []error) {
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, []error{adapters.NewNoFillError("stub", "")}
	case resp.StatusCode != http.StatusOK:
		return nil, []error{adapters.NewBadStatusError("stub", resp.StatusCode)}
	}
	return &adapters.AdResponse{Markup: string(resp.Body), Reward: &adapters.Reward{Type: "gems", Amount: 5}, ExpiresIn: 60}, nil
}

func (a *stubAdapter) TranslateEvent(ev adapters.NetworkEvent) []adapters.EventType {
	switch ev.Name {
	case "dismissed":
		return []adapters.EventType{adapters.EventClosed}
	case "earned":
		return []adapters.EventType{adapters.EventRewarded}
	case "playFailed":
		return []adapters.EventType{adapters.EventFailedToShow}
	}
	return nil
}

func (a *stubAdapter) PlacementKey(req *adapters.AdRequest) (string, bool) {
	return req.ServerParameters.Get("placement"), a.exclusive
}

func (a *stubAdapter) ShowEvents(_ adapters.Format) []adapters.EventType {
	return a.showEvents
}

// fakeClient answers every network call with a fixed response
type fakeClient struct {
	status int
	err    error
	calls  atomic.Int32
}

func (c *fakeClient) Do(_ context.Context, req *adapters.RequestData, _ time.Duration) (*adapters.ResponseData, error) {
	if req.Method == adapters.MethodMock {
		return &adapters.ResponseData{StatusCode: http.StatusOK, Body: req.Body}, nil
	}
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &adapters.ResponseData{StatusCode: c.status, Body: []byte("<html>stub</html>")}, nil
}

type fixture struct {
	mediator *Mediator
	adapter  *stubAdapter
	client   *fakeClient
	sink     *recordingSink
	ads      *store.MemoryAdStore
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	reg := adapters.NewRegistry()
	stub := &stubAdapter{exclusive: true}
	if err := reg.Register("sample", sample.New(""), sample.Info()); err != nil {
		t.Fatalf("register sample: %v", err)
	}
	if err := reg.Register("stub", stub, adapters.NetworkInfo{
		Enabled:  true,
		Formats:  []adapters.Format{adapters.FormatInterstitial, adapters.FormatRewarded},
		Endpoint: "https://stub.test/ads",
	}); err != nil {
		t.Fatalf("register stub: %v", err)
	}
	if err := reg.Register("off", &stubAdapter{}, adapters.NetworkInfo{Formats: []adapters.Format{adapters.FormatBanner}}); err != nil {
		t.Fatalf("register off: %v", err)
	}

	ads := store.NewMemoryAdStore()
	m := New(reg, ads, store.NewMemoryPlacementLocker(), cfg)
	client := &fakeClient{status: http.StatusOK}
	m.SetHTTPClient(client)
	sink := &recordingSink{}
	m.SetEventSink(sink)
	rec := metrics.NewMetrics("test")
	m.SetMetrics(rec)
	t.Cleanup(m.Close)

	return &fixture{mediator: m, adapter: stub, client: client, sink: sink, ads: ads, metrics: rec}
}

func stubRequest() *adapters.AdRequest {
	return &adapters.AdRequest{
		Network:          "stub",
		Format:           adapters.FormatRewarded,
		ServerParameters: adapters.ServerParameters{"placement": "REWARDED-1"},
	}
}

func TestLoadAd_ResolvesSentinelBanner(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.mediator.LoadAd(context.Background(), &adapters.AdRequest{
		Network:          "sample",
		Format:           adapters.FormatBanner,
		ServerParameters: adapters.ServerParameters{"parameter": "banner-unit"},
		Size:             adsize.Size{Width: adsize.WidthFullScreen, Height: adsize.HeightAuto},
		Screen:           adsize.Screen{WidthDP: 360, HeightDP: 640, Density: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := adsize.Size{Width: 360, Height: 50}
	if result.Size == nil || *result.Size != expected {
		t.Errorf("expected requested size %v, got %v", expected, result.Size)
	}
	if result.Ad.Size == nil || *result.Ad.Size != expected {
		t.Errorf("expected ad size %v, got %v", expected, result.Ad.Size)
	}
	if result.Ad.AdID == "" || result.Ad.Network != "sample" {
		t.Errorf("expected ad id and network to be set, got %+v", result.Ad)
	}
	if f.ads.Len() != 1 {
		t.Errorf("expected 1 cached ad, got %d", f.ads.Len())
	}
	if types := f.sink.types(); len(types) != 1 || types[0] != adapters.EventLoaded {
		t.Errorf("expected a single loaded event, got %v", types)
	}
	if got := testutil.ToFloat64(f.metrics.SizeMatchTotal.WithLabelValues("sample", "matched")); got != 1 {
		t.Errorf("expected 1 size match, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.AdLoadsTotal.WithLabelValues("sample", "banner", "filled")); got != 1 {
		t.Errorf("expected 1 filled load, got %v", got)
	}
}

func TestLoadAd_PixelSize(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.mediator.LoadAd(context.Background(), &adapters.AdRequest{
		Network:          "sample",
		Format:           adapters.FormatBanner,
		ServerParameters: adapters.ServerParameters{"parameter": "banner-unit"},
		Size:             adsize.Size{Width: 640, Height: 101},
		SizeInPixels:     true,
		Screen:           adsize.Screen{WidthDP: 360, HeightDP: 640, Density: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := (adsize.Size{Width: 320, Height: 51}); *result.Size != expected {
		t.Errorf("expected %v, got %v", expected, *result.Size)
	}
}

func TestLoadAd_Errors(t *testing.T) {
	tests := []struct {
		name     string
		req      *adapters.AdRequest
		sentinel error
		code     adapters.ErrorCode
	}{
		{
			name:     "unknown network",
			req:      &adapters.AdRequest{Network: "nope", Format: adapters.FormatBanner},
			sentinel: ErrNetworkNotFound,
		},
		{
			name:     "disabled network",
			req:      &adapters.AdRequest{Network: "off", Format: adapters.FormatBanner},
			sentinel: ErrNetworkNotFound,
		},
		{
			name:     "no network",
			req:      &adapters.AdRequest{Format: adapters.FormatBanner},
			sentinel: ErrNetworkNotFound,
		},
		{
			name: "unsupported format",
			req: &adapters.AdRequest{
				Network:          "stub",
				Format:           adapters.FormatBanner,
				ServerParameters: adapters.ServerParameters{"placement": "p"},
			},
			code: adapters.ErrorCodeUnsupportedFormat,
		},
		{
			name: "unresolvable size",
			req: &adapters.AdRequest{
				Network:          "sample",
				Format:           adapters.FormatBanner,
				ServerParameters: adapters.ServerParameters{"parameter": "u"},
				Size:             adsize.Size{Width: adsize.WidthFullScreen, Height: 50},
			},
			code: adapters.ErrorCodeSizeMismatch,
		},
		{
			name: "missing server parameters",
			req: &adapters.AdRequest{
				Network: "stub",
				Format:  adapters.FormatRewarded,
			},
			code: adapters.ErrorCodeInvalidServerParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.mediator.LoadAd(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
			if tt.code != "" {
				if got := adapters.CodeOf(err); got != tt.code {
					t.Errorf("expected code %s, got %s (%v)", tt.code, got, err)
				}
				ev := f.sink.last()
				if ev.Type != adapters.EventFailedToLoad || ev.Error == nil || ev.Error.Code != tt.code.HostCode() {
					t.Errorf("expected failed_to_load with code %d, got %+v", tt.code.HostCode(), ev)
				}
			}
		})
	}
}

func TestLoadAd_ExclusivePlacement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.mediator.LoadAd(ctx, stubRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.mediator.LoadAd(ctx, stubRequest())
	if adapters.CodeOf(err) != adapters.ErrorCodeAdAlreadyLoaded {
		t.Fatalf("expected AD_ALREADY_LOADED, got %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.PlacementLocked.WithLabelValues("stub")); got != 1 {
		t.Errorf("expected 1 locked placement, got %v", got)
	}

	// Another placement of the same network is unaffected
	other := stubRequest()
	other.ServerParameters = adapters.ServerParameters{"placement": "REWARDED-2"}
	if _, err := f.mediator.LoadAd(ctx, other); err != nil {
		t.Errorf("expected other placement to load, got %v", err)
	}

	if _, err := f.mediator.ShowAd(ctx, first.Ad.AdID); err != nil {
		t.Fatalf("unexpected show error: %v", err)
	}
	if _, err := f.mediator.LoadAd(ctx, stubRequest()); err != nil {
		t.Errorf("expected placement to be free after show, got %v", err)
	}
}

func TestLoadAd_NoFillReleasesPlacement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.client.status = http.StatusNoContent
	_, err := f.mediator.LoadAd(ctx, stubRequest())
	if !adapters.IsNoFill(err) {
		t.Fatalf("expected no fill, got %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.AdLoadsTotal.WithLabelValues("stub", "rewarded", "no_fill")); got != 1 {
		t.Errorf("expected 1 no_fill load, got %v", got)
	}

	f.client.status = http.StatusOK
	if _, err := f.mediator.LoadAd(ctx, stubRequest()); err != nil {
		t.Errorf("expected placement to be free after no fill, got %v", err)
	}
}

func TestLoadAd_CapsExpiry(t *testing.T) {
	f := newFixture(t, &Config{AdTTL: 30 * time.Second})
	result, err := f.mediator.LoadAd(context.Background(), stubRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ad.ExpiresIn != 30 {
		t.Errorf("expected expiry capped at 30s, got %d", result.Ad.ExpiresIn)
	}
}

func TestLoadAd_ExpiredAdFreesPlacement(t *testing.T) {
	f := newFixture(t, &Config{AdTTL: 50 * time.Millisecond})
	ctx := context.Background()

	first, err := f.mediator.LoadAd(ctx, stubRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := f.mediator.ShowAd(ctx, first.Ad.AdID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired ad to be gone, got %v", err)
	}
	if _, err := f.mediator.LoadAd(ctx, stubRequest()); err != nil {
		t.Errorf("expected placement to be free after the ad expired, got %v", err)
	}
}

// refreshRecorder notes the ttl each reservation ends up with
type refreshRecorder struct {
	*store.MemoryPlacementLocker
	mu       sync.Mutex
	acquired []time.Duration
	refresh  []time.Duration
}

func (r *refreshRecorder) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	r.acquired = append(r.acquired, ttl)
	r.mu.Unlock()
	return r.MemoryPlacementLocker.Acquire(ctx, key, owner, ttl)
}

func (r *refreshRecorder) Refresh(ctx context.Context, owner string, ttl time.Duration) error {
	r.mu.Lock()
	r.refresh = append(r.refresh, ttl)
	r.mu.Unlock()
	return r.MemoryPlacementLocker.Refresh(ctx, owner, ttl)
}

func TestLoadAd_PlacementFollowsAdExpiry(t *testing.T) {
	f := newFixture(t, &Config{AdTTL: 10 * time.Minute, PlacementLockTTL: time.Hour})
	locks := &refreshRecorder{MemoryPlacementLocker: store.NewMemoryPlacementLocker()}
	f.mediator.locks = locks

	if _, err := f.mediator.LoadAd(context.Background(), stubRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Acquired for the ad TTL, then shortened to the network expiry of 60s
	if len(locks.acquired) != 1 || locks.acquired[0] != 10*time.Minute {
		t.Errorf("expected placement acquired for 10m, got %v", locks.acquired)
	}
	if len(locks.refresh) != 1 || locks.refresh[0] != time.Minute {
		t.Errorf("expected placement shortened to 1m, got %v", locks.refresh)
	}
}

func TestLoadAd_LogsAdUnit(t *testing.T) {
	var buf bytes.Buffer
	original := logger.Log
	logger.Log = zerolog.New(&buf)
	t.Cleanup(func() { logger.Log = original })

	f := newFixture(t, nil)
	req := stubRequest()
	req.ID = "req-ad-unit"
	req.AdUnitID = "ca-app-pub-1/rewarded"
	if _, err := f.mediator.LoadAd(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var loaded map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if json.Unmarshal([]byte(line), &entry) == nil && entry["message"] == "ad loaded" {
			loaded = entry
		}
	}
	if loaded == nil {
		t.Fatalf("expected an ad loaded line, got %s", buf.String())
	}
	if loaded["ad_unit_id"] != "ca-app-pub-1/rewarded" || loaded["request_id"] != "req-ad-unit" {
		t.Errorf("expected ad unit and request ids, got %v", loaded)
	}
	if loaded["network"] != "stub" {
		t.Errorf("expected network stub, got %v", loaded["network"])
	}
}

func TestLoadAd_CircuitBreaker(t *testing.T) {
	f := newFixture(t, &Config{Breaker: &breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	}})
	ctx := context.Background()
	f.client.err = errors.New("connection refused")

	for i := 0; i < 2; i++ {
		_, err := f.mediator.LoadAd(ctx, stubRequest())
		if adapters.CodeOf(err) != adapters.ErrorCodeNetwork {
			t.Fatalf("attempt %d: expected NETWORK_ERROR, got %v", i, err)
		}
	}

	_, err := f.mediator.LoadAd(ctx, stubRequest())
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls := f.client.calls.Load(); calls != 2 {
		t.Errorf("expected 2 network calls, got %d", calls)
	}

	f.mediator.Close()
	if got := testutil.ToFloat64(f.metrics.CircuitState.WithLabelValues("stub")); got != 1 {
		t.Errorf("expected open circuit metric, got %v", got)
	}
	stats := f.mediator.BreakerStats()
	if len(stats) != 1 || stats[0].State != breaker.StateOpen {
		t.Errorf("expected stub breaker open, got %+v", stats)
	}
}

func TestLoadAd_NoFillDoesNotTripBreaker(t *testing.T) {
	f := newFixture(t, &Config{Breaker: &breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour}})
	f.client.status = http.StatusNoContent

	for i := 0; i < 3; i++ {
		if _, err := f.mediator.LoadAd(context.Background(), stubRequest()); !adapters.IsNoFill(err) {
			t.Fatalf("attempt %d: expected no fill, got %v", i, err)
		}
	}
	if calls := f.client.calls.Load(); calls != 3 {
		t.Errorf("expected every load to reach the network, got %d calls", calls)
	}
}

func TestLoadAd_Native(t *testing.T) {
	f := newFixture(t, nil)
	result, err := f.mediator.LoadAd(context.Background(), &adapters.AdRequest{
		Network:          "sample",
		Format:           adapters.FormatNative,
		ServerParameters: adapters.ServerParameters{"parameter": "native-unit"},
		Native:           adapters.NativeOptions{ReturnURLsForImages: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Native == nil || result.Native.Headline != "Sample Native Ad" {
		t.Fatalf("expected mapped native ad, got %+v", result.Native)
	}
	if len(result.Native.Images) != 1 || result.Native.Images[0].Data != nil {
		t.Errorf("expected one image URL without data, got %+v", result.Native.Images)
	}
}

type fakeAdUnits struct {
	units map[string]*storage.AdUnit
}

func (f *fakeAdUnits) Get(_ context.Context, id string) (*storage.AdUnit, error) {
	return f.units[id], nil
}

func (f *fakeAdUnits) ServerParametersByNetwork(_ context.Context) (map[string][]adapters.ServerParameters, error) {
	grouped := make(map[string][]adapters.ServerParameters)
	for _, u := range f.units {
		grouped[u.Network] = append(grouped[u.Network], u.ServerParameters)
	}
	return grouped, nil
}

func TestLoadAd_FromAdUnit(t *testing.T) {
	f := newFixture(t, nil)
	f.mediator.SetAdUnitSource(&fakeAdUnits{units: map[string]*storage.AdUnit{
		"unit-1": {
			ID:               "unit-1",
			Network:          "stub",
			Format:           adapters.FormatInterstitial,
			ServerParameters: adapters.ServerParameters{"placement": "INT-1"},
		},
	}})

	result, err := f.mediator.LoadAd(context.Background(), &adapters.AdRequest{AdUnitID: "unit-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ad.Network != "stub" || result.Ad.Format != adapters.FormatInterstitial {
		t.Errorf("expected stub interstitial, got %+v", result.Ad)
	}
	if ev := f.sink.last(); ev.AdUnitID != "unit-1" {
		t.Errorf("expected event to carry ad unit, got %+v", ev)
	}

	_, err = f.mediator.LoadAd(context.Background(), &adapters.AdRequest{AdUnitID: "missing"})
	if !errors.Is(err, ErrAdUnitNotFound) {
		t.Errorf("expected ErrAdUnitNotFound, got %v", err)
	}
}

func TestShowAd(t *testing.T) {
	f := newFixture(t, nil)
	f.adapter.showEvents = []adapters.EventType{adapters.EventOpened, adapters.EventImpression}
	ctx := context.Background()

	result, err := f.mediator.LoadAd(ctx, stubRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := f.mediator.ShowAd(ctx, result.Ad.AdID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Ad.Markup != "<html>stub</html>" {
		t.Errorf("expected markup, got %q", stored.Ad.Markup)
	}

	types := f.sink.types()
	expected := []adapters.EventType{adapters.EventLoaded, adapters.EventOpened, adapters.EventImpression}
	if len(types) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Errorf("event %d: expected %s, got %s", i, expected[i], types[i])
		}
	}

	if _, err := f.mediator.ShowAd(ctx, result.Ad.AdID); !errors.Is(err, ErrAdNotFound) {
		t.Errorf("expected second show to fail with ErrAdNotFound, got %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.AdsShownTotal.WithLabelValues("stub", "rewarded")); got != 1 {
		t.Errorf("expected 1 shown ad, got %v", got)
	}
}

func TestForwardEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.mediator.LoadAd(ctx, stubRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adID := result.Ad.AdID

	t.Run("reward from cached ad", func(t *testing.T) {
		events, err := f.mediator.ForwardEvent(ctx, adapters.NetworkEvent{Network: "stub", AdID: adID, Name: "earned"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 1 || events[0].Reward == nil {
			t.Fatalf("expected one rewarded event, got %+v", events)
		}
		if r := events[0].Reward; r.Type != "gems" || r.Amount != 5 {
			t.Errorf("expected 5 gems, got %+v", r)
		}
		if events[0].Format != adapters.FormatRewarded || events[0].RequestID == "" {
			t.Errorf("expected format and request id from cached ad, got %+v", events[0])
		}
	})

	t.Run("reward from payload", func(t *testing.T) {
		events, _ := f.mediator.ForwardEvent(ctx, adapters.NetworkEvent{
			Network: "stub",
			AdID:    adID,
			Name:    "earned",
			Payload: map[string]string{"reward_type": "coins", "reward_amount": "10"},
		})
		if r := events[0].Reward; r.Type != "coins" || r.Amount != 10 {
			t.Errorf("expected 10 coins, got %+v", r)
		}
	})

	t.Run("dropped callback", func(t *testing.T) {
		events, err := f.mediator.ForwardEvent(ctx, adapters.NetworkEvent{Network: "stub", AdID: adID, Name: "onAdStart"})
		if err != nil || events != nil {
			t.Errorf("expected no events, got %v, %v", events, err)
		}
		if got := testutil.ToFloat64(f.metrics.EventsDropped.WithLabelValues("stub")); got != 1 {
			t.Errorf("expected 1 dropped event, got %v", got)
		}
	})

	t.Run("unknown network", func(t *testing.T) {
		if _, err := f.mediator.ForwardEvent(ctx, adapters.NetworkEvent{Network: "nope", Name: "x"}); !errors.Is(err, ErrNetworkNotFound) {
			t.Errorf("expected ErrNetworkNotFound, got %v", err)
		}
	})
}

func TestForwardEvent_FailedToShowReleasesPlacement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.mediator.LoadAd(ctx, stubRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := f.mediator.ForwardEvent(ctx, adapters.NetworkEvent{
		Network: "stub",
		AdID:    result.Ad.AdID,
		Name:    "playFailed",
		Payload: map[string]string{"error_code": "6", "error_message": "video unavailable"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e := events[0].Error; e == nil || e.Code != 6 || e.Message != "video unavailable" || e.Domain != "mediation.stub" {
		t.Errorf("unexpected error info %+v", events[0].Error)
	}

	if _, err := f.mediator.LoadAd(ctx, stubRequest()); err != nil {
		t.Errorf("expected placement to be free after failed show, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, nil)
	f.adapter.initErr = adapters.NewInvalidServerParametersError("stub", "placement")

	failures := f.mediator.Initialize(context.Background(), map[string][]adapters.ServerParameters{
		"sample": {{"parameter": "unit"}},
		"stub":   {{}},
		"off":    {{"placement": "x"}},
	})
	if len(failures) != 1 || failures["stub"] == nil {
		t.Errorf("expected only stub to fail, got %v", failures)
	}

	statuses, err := f.mediator.NetworkStatuses(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses["sample"] != StatusReady {
		t.Errorf("expected sample ready, got %q", statuses["sample"])
	}
	if _, ok := statuses["off"]; ok {
		t.Error("expected disabled network to be skipped")
	}
	if s := statuses["stub"]; len(s) < len(StatusFailed) || s[:len(StatusFailed)] != StatusFailed {
		t.Errorf("expected stub failed, got %q", s)
	}
}

func TestInitializeFromAdUnits(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.mediator.InitializeFromAdUnits(context.Background()); err == nil {
		t.Error("expected error without ad unit source")
	}

	f.mediator.SetAdUnitSource(&fakeAdUnits{units: map[string]*storage.AdUnit{
		"a": {ID: "a", Network: "sample", ServerParameters: adapters.ServerParameters{"parameter": "a"}},
	}})
	failures, err := f.mediator.InitializeFromAdUnits(context.Background())
	if err != nil || len(failures) != 0 {
		t.Errorf("expected clean initialization, got %v, %v", failures, err)
	}
}
