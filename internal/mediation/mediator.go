// Package mediation loads ads from the registered networks, keeps them until
// they are shown and forwards network callbacks as host events
package mediation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/native"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/storage"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/store"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/breaker"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// Sentinel errors
var (
	ErrNetworkNotFound = errors.New("network not found")
	ErrAdUnitNotFound  = errors.New("ad unit not found")
	ErrAdNotFound      = store.ErrNotFound
)

// Network statuses recorded by Initialize
const (
	StatusReady  = "ready"
	StatusFailed = "failed"
)

// MetricsRecorder records mediation metrics
type MetricsRecorder interface {
	RecordAdLoad(network, format, status string, duration time.Duration)
	RecordNetworkLatency(network string, latency time.Duration)
	RecordSizeMatch(network string, matched bool)
	RecordPlacementLocked(network string)
	RecordAdShown(network, format string)
	RecordEvent(network, event string)
	RecordEventDropped(network string)
	RecordImageDownload(network string, success bool)
	SetCircuitState(network, state string)
}

// AdUnitSource resolves host ad unit IDs to network configuration
type AdUnitSource interface {
	Get(ctx context.Context, id string) (*storage.AdUnit, error)
	ServerParametersByNetwork(ctx context.Context) (map[string][]adapters.ServerParameters, error)
}

// Config holds mediator configuration
type Config struct {
	LoadTimeout      time.Duration
	AdTTL            time.Duration
	PlacementLockTTL time.Duration
	Breaker          *breaker.Config
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		LoadTimeout:      config.DefaultLoadTimeout,
		AdTTL:            config.DefaultAdTTL,
		PlacementLockTTL: config.PlacementLockTTL,
		Breaker:          breaker.DefaultConfig(),
	}
}

func validateConfig(cfg *Config) *Config {
	defaults := DefaultConfig()
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaults.LoadTimeout
	}
	if cfg.AdTTL <= 0 {
		cfg.AdTTL = defaults.AdTTL
	}
	if cfg.PlacementLockTTL <= 0 {
		cfg.PlacementLockTTL = defaults.PlacementLockTTL
	}
	if cfg.Breaker == nil {
		cfg.Breaker = defaults.Breaker
	}
	return cfg
}

// Mediator orchestrates ad loads, shows and event forwarding
type Mediator struct {
	registry   *adapters.Registry
	httpClient adapters.HTTPClient
	ads        store.AdStore
	locks      store.PlacementLocker
	statuses   store.StatusStore
	adUnits    AdUnitSource
	mapper     *native.Mapper
	sink       EventSink
	breakers   *breaker.Group
	config     *Config

	metricsMu sync.RWMutex
	metrics   MetricsRecorder

	newID func() string
	now   func() time.Time
}

// New creates a mediator over registry that caches ads in ads and reserves
// exclusive placements in locks
func New(registry *adapters.Registry, ads store.AdStore, locks store.PlacementLocker, cfg *Config) *Mediator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = validateConfig(cfg)

	httpClient := adapters.NewHTTPClient(cfg.LoadTimeout)
	m := &Mediator{
		registry:   registry,
		httpClient: httpClient,
		ads:        ads,
		locks:      locks,
		statuses:   store.NewMemoryStatusStore(),
		mapper:     native.NewMapper(httpClient, native.DefaultMapperConfig()),
		sink:       NewLogSink(),
		config:     cfg,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}

	breakerCfg := *cfg.Breaker
	userCallback := breakerCfg.OnStateChange
	breakerCfg.IsFailure = isNetworkFailure
	breakerCfg.OnStateChange = func(network, from, to string) {
		logger.Network(network).Warn().Str("from", from).Str("to", to).Msg("network circuit state changed")
		if rec := m.getMetrics(); rec != nil {
			rec.SetCircuitState(network, to)
		}
		if userCallback != nil {
			userCallback(network, from, to)
		}
	}
	m.breakers = breaker.NewGroup(&breakerCfg)
	return m
}

// SetMetrics sets the metrics recorder
func (m *Mediator) SetMetrics(rec MetricsRecorder) {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()
	m.metrics = rec
}

func (m *Mediator) getMetrics() MetricsRecorder {
	m.metricsMu.RLock()
	defer m.metricsMu.RUnlock()
	return m.metrics
}

// SetHTTPClient replaces the client used for network calls and image downloads
func (m *Mediator) SetHTTPClient(client adapters.HTTPClient) {
	m.httpClient = client
	m.mapper = native.NewMapper(client, native.DefaultMapperConfig())
}

// SetNativeMapper replaces the native mapper
func (m *Mediator) SetNativeMapper(mapper *native.Mapper) {
	m.mapper = mapper
}

// SetEventSink sets where host events are published
func (m *Mediator) SetEventSink(sink EventSink) {
	m.sink = sink
}

// SetAdUnitSource sets the ad unit configuration source
func (m *Mediator) SetAdUnitSource(src AdUnitSource) {
	m.adUnits = src
}

// SetStatusStore sets where network initialization statuses are recorded
func (m *Mediator) SetStatusStore(s store.StatusStore) {
	m.statuses = s
}

// Close waits for pending breaker callbacks
func (m *Mediator) Close() {
	m.breakers.Close()
}

// BreakerStats returns the circuit breaker stats of every network called so far
func (m *Mediator) BreakerStats() []breaker.Stats {
	return m.breakers.Stats()
}

// NetworkStatuses returns the last initialization status of every network
func (m *Mediator) NetworkStatuses(ctx context.Context) (map[string]string, error) {
	return m.statuses.Statuses(ctx)
}

// isNetworkFailure counts transport errors and server errors against a network.
// No fill and request errors say nothing about the network's health.
func isNetworkFailure(err error) bool {
	var ae *adapters.AdapterError
	if errors.As(err, &ae) {
		return ae.Code == adapters.ErrorCodeNetwork || ae.Code == adapters.ErrorCodeBadStatus
	}
	return err != nil
}

// Initialize hands every enabled network the server parameters of its ad
// units. Networks initialize in parallel; a failing network does not stop
// the others. The returned map holds the error of each failed network.
func (m *Mediator) Initialize(ctx context.Context, units map[string][]adapters.ServerParameters) map[string]error {
	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, network := range m.registry.ListEnabledNetworks() {
		params, ok := units[network]
		if !ok {
			continue
		}
		awi, _ := m.registry.Get(network)
		g.Go(func() error {
			err := awi.Adapter.Initialize(gctx, params)
			status := StatusReady
			if err != nil {
				status = StatusFailed + ": " + err.Error()
				mu.Lock()
				failures[network] = err
				mu.Unlock()
				logger.Network(network).Error().Err(err).Int("ad_units", len(params)).Msg("network initialization failed")
			} else {
				logger.Network(network).Info().Int("ad_units", len(params)).Msg("network initialized")
			}
			if serr := m.statuses.SetStatus(ctx, network, status); serr != nil {
				logger.Network(network).Warn().Err(serr).Msg("failed to record network status")
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// InitializeFromAdUnits initializes networks with the active ad units of the configured source
func (m *Mediator) InitializeFromAdUnits(ctx context.Context) (map[string]error, error) {
	if m.adUnits == nil {
		return nil, fmt.Errorf("no ad unit source configured")
	}
	units, err := m.adUnits.ServerParametersByNetwork(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ad units: %w", err)
	}
	return m.Initialize(ctx, units), nil
}

// LoadResult is a successfully loaded ad
type LoadResult struct {
	Ad        *adapters.AdResponse `json:"ad"`
	Native    *native.Ad           `json:"native,omitempty"`
	Size      *adsize.Size         `json:"requested_size,omitempty"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// LoadAd loads one ad from the request's network and caches it until shown.
// Banner sizes are resolved to concrete dp values before the adapter sees them.
func (m *Mediator) LoadAd(ctx context.Context, req *adapters.AdRequest) (*LoadResult, error) {
	start := m.now()
	if req.ID == "" {
		req.ID = m.newID()
	}
	ctx = logger.WithRequestID(ctx, req.ID)
	if req.AdUnitID != "" {
		ctx = logger.WithAdUnitID(ctx, req.AdUnitID)
	}

	if err := m.resolveAdUnit(ctx, req); err != nil {
		return nil, err
	}

	awi, ok := m.registry.Get(req.Network)
	if !ok || !awi.Info.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, req.Network)
	}

	adID := m.newID()
	result, placement, err := m.load(ctx, awi, req, adID)
	if err != nil {
		m.loadFailed(ctx, req, adID, placement, start, err)
		return nil, err
	}

	if rec := m.getMetrics(); rec != nil {
		rec.RecordAdLoad(req.Network, string(req.Format), "filled", m.now().Sub(start))
	}
	m.emit(ctx, adapters.Event{
		Type:      adapters.EventLoaded,
		AdID:      adID,
		RequestID: req.ID,
		AdUnitID:  req.AdUnitID,
		Network:   req.Network,
		Format:    req.Format,
	})
	logger.FromContext(ctx).Info().
		Str("network", req.Network).
		Str("format", string(req.Format)).
		Str("ad_id", adID).
		Dur("duration", m.now().Sub(start)).
		Msg("ad loaded")
	return result, nil
}

// resolveAdUnit fills the network, format and server parameters of a request
// that only names a host ad unit
func (m *Mediator) resolveAdUnit(ctx context.Context, req *adapters.AdRequest) error {
	if req.AdUnitID == "" || (req.Network != "" && len(req.ServerParameters) > 0) {
		if req.Network == "" {
			return fmt.Errorf("%w: no network requested", ErrNetworkNotFound)
		}
		return nil
	}
	if m.adUnits == nil {
		return fmt.Errorf("%w: %s", ErrAdUnitNotFound, req.AdUnitID)
	}

	unit, err := m.adUnits.Get(ctx, req.AdUnitID)
	if err != nil {
		return fmt.Errorf("failed to resolve ad unit %s: %w", req.AdUnitID, err)
	}
	if unit == nil {
		return fmt.Errorf("%w: %s", ErrAdUnitNotFound, req.AdUnitID)
	}
	if req.Network != "" && req.Network != unit.Network {
		return fmt.Errorf("%w: ad unit %s belongs to %s", ErrAdUnitNotFound, req.AdUnitID, unit.Network)
	}
	req.Network = unit.Network
	if req.Format == "" {
		req.Format = unit.Format
	}
	if len(req.ServerParameters) == 0 {
		req.ServerParameters = unit.ServerParameters
	}
	return nil
}

// load runs a single load. It returns the reserved placement key so a failed
// load can release it.
func (m *Mediator) load(ctx context.Context, awi adapters.AdapterWithInfo, req *adapters.AdRequest, adID string) (*LoadResult, string, error) {
	network := req.Network
	if !req.Format.Valid() || !awi.Info.Supports(req.Format) {
		return nil, "", adapters.NewUnsupportedFormatError(network, req.Format)
	}

	var requested *adsize.Size
	if req.Format == adapters.FormatBanner {
		if req.SizeInPixels {
			req.Size = adsize.FromPixels(req.Size.Width, req.Size.Height, req.Screen.Density)
			req.SizeInPixels = false
		}
		resolved, err := adsize.Resolve(req.Size, req.Screen)
		if err != nil {
			m.recordSizeMatch(network, false)
			return nil, "", adapters.NewSizeMismatchError(network, req.Size, awi.Info.Sizes)
		}
		req.Size = resolved
		requested = &resolved
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.LoadTimeout)
	defer cancel()

	extraInfo := &adapters.ExtraRequestInfo{
		Endpoint: awi.Info.Endpoint,
		Timeout:  m.config.LoadTimeout,
	}
	requests, errs := awi.Adapter.MakeRequests(req, extraInfo)
	if len(errs) > 0 {
		if adapters.CodeOf(errs[0]) == adapters.ErrorCodeSizeMismatch {
			m.recordSizeMatch(network, false)
		}
		return nil, "", errs[0]
	}
	if len(requests) == 0 {
		return nil, "", adapters.NewNoFillError(network, "no request built")
	}
	if requested != nil {
		m.recordSizeMatch(network, true)
	}

	placement := ""
	if pe, ok := awi.Adapter.(adapters.PlacementExclusive); ok {
		if key, exclusive := pe.PlacementKey(req); exclusive {
			lockKey := store.PlacementKey(network, key)
			acquired, err := m.locks.Acquire(ctx, lockKey, adID, m.lockTTL())
			if err != nil {
				return nil, "", fmt.Errorf("failed to reserve placement %s: %w", key, err)
			}
			if !acquired {
				if rec := m.getMetrics(); rec != nil {
					rec.RecordPlacementLocked(network)
				}
				return nil, "", adapters.NewAdAlreadyLoadedError(network, key)
			}
			placement = key
		}
	}

	ad, err := m.execute(ctx, awi.Adapter, req, requests)
	if err != nil {
		return nil, placement, err
	}
	ad.AdID = adID
	ad.Network = network
	ad.Format = req.Format

	ttl := m.config.AdTTL
	if ad.ExpiresIn > 0 && time.Duration(ad.ExpiresIn)*time.Second < ttl {
		ttl = time.Duration(ad.ExpiresIn) * time.Second
	}
	ad.ExpiresIn = int(ttl / time.Second)

	// The reservation must not outlive the ad it was taken for
	if placement != "" && ttl < m.lockTTL() {
		if err := m.locks.Refresh(ctx, adID, ttl); err != nil {
			return nil, placement, fmt.Errorf("failed to shorten placement %s: %w", placement, err)
		}
	}

	var nativeAd *native.Ad
	if req.Format == adapters.FormatNative {
		nativeAd, err = m.mapper.Map(ctx, network, ad.Native, req.Native)
		if !req.Native.ReturnURLsForImages && adapters.CodeOf(err) != adapters.ErrorCodeMissingNativeAssets {
			if rec := m.getMetrics(); rec != nil {
				rec.RecordImageDownload(network, err == nil)
			}
		}
		if err != nil {
			return nil, placement, err
		}
	}

	stored := &store.StoredAd{
		Ad:        ad,
		Native:    nativeAd,
		RequestID: req.ID,
		AdUnitID:  req.AdUnitID,
		Placement: placement,
		LoadedAt:  m.now(),
	}
	if err := m.ads.Put(ctx, stored, ttl); err != nil {
		return nil, placement, fmt.Errorf("failed to cache ad: %w", err)
	}

	return &LoadResult{
		Ad:        ad,
		Native:    nativeAd,
		Size:      requested,
		ExpiresAt: stored.LoadedAt.Add(ttl),
	}, placement, nil
}

// lockTTL bounds placement reservations by the ad lifetime
func (m *Mediator) lockTTL() time.Duration {
	return min(m.config.PlacementLockTTL, m.config.AdTTL)
}

// execute sends the requests through the network's circuit breaker and
// returns the first ad. Later requests are only tried while earlier ones
// fail.
func (m *Mediator) execute(ctx context.Context, adapter adapters.Adapter, req *adapters.AdRequest, requests []*adapters.RequestData) (*adapters.AdResponse, error) {
	network := req.Network
	cb := m.breakers.Get(network)

	var lastErr error
	for _, reqData := range requests {
		select {
		case <-ctx.Done():
			return nil, adapters.NewNetworkError(network, ctx.Err())
		default:
		}

		var resp *adapters.ResponseData
		callStart := time.Now()
		err := cb.Execute(func() error {
			r, err := m.httpClient.Do(ctx, reqData, m.config.LoadTimeout)
			if err != nil {
				return adapters.NewNetworkError(network, err)
			}
			resp = r
			if r.StatusCode >= 500 {
				return adapters.NewBadStatusError(network, r.StatusCode)
			}
			return nil
		})
		if rec := m.getMetrics(); rec != nil && reqData.Method != adapters.MethodMock {
			rec.RecordNetworkLatency(network, time.Since(callStart))
		}

		if errors.Is(err, breaker.ErrCircuitOpen) || errors.Is(err, breaker.ErrTooManyConcurrent) {
			return nil, fmt.Errorf("%s: %w", network, err)
		}
		if resp == nil {
			lastErr = err
			logger.FromContext(ctx).Debug().Err(err).Str("network", network).Str("uri", reqData.URI).Msg("network request failed")
			continue
		}

		ad, errs := adapter.MakeAds(req, resp)
		if len(errs) > 0 {
			lastErr = errs[0]
			continue
		}
		if ad == nil {
			lastErr = adapters.NewNoFillError(network, "")
			continue
		}
		return ad, nil
	}
	return nil, lastErr
}

func (m *Mediator) recordSizeMatch(network string, matched bool) {
	if rec := m.getMetrics(); rec != nil {
		rec.RecordSizeMatch(network, matched)
	}
}

// loadFailed releases the placement, records the failure and notifies the listener
func (m *Mediator) loadFailed(ctx context.Context, req *adapters.AdRequest, adID, placement string, start time.Time, err error) {
	if placement != "" {
		if rerr := m.locks.Release(ctx, adID); rerr != nil {
			logger.FromContext(ctx).Warn().Err(rerr).Str("placement", placement).Msg("failed to release placement")
		}
	}

	status := "error"
	switch {
	case adapters.IsNoFill(err):
		status = "no_fill"
	case adapters.CodeOf(err) != "":
		status = strings.ToLower(string(adapters.CodeOf(err)))
	case errors.Is(err, breaker.ErrCircuitOpen):
		status = "circuit_open"
	}
	if rec := m.getMetrics(); rec != nil {
		rec.RecordAdLoad(req.Network, string(req.Format), status, m.now().Sub(start))
	}

	m.emit(ctx, adapters.Event{
		Type:      adapters.EventFailedToLoad,
		RequestID: req.ID,
		AdUnitID:  req.AdUnitID,
		Network:   req.Network,
		Format:    req.Format,
		Error:     adapters.NewErrorInfo(err),
	})

	ev := logger.FromContext(ctx).Info()
	if !adapters.IsNoFill(err) {
		ev = logger.FromContext(ctx).Warn()
	}
	ev.Err(err).Str("network", req.Network).Str("format", string(req.Format)).Msg("ad load failed")
}

// ShowAd hands out a loaded ad for display. Each ad can be shown once; the
// placement it reserved is released.
func (m *Mediator) ShowAd(ctx context.Context, adID string) (*store.StoredAd, error) {
	stored, err := m.ads.Take(ctx, adID)
	if err != nil {
		return nil, err
	}
	ad := stored.Ad
	ctx = logger.WithRequestID(ctx, stored.RequestID)

	if stored.Placement != "" {
		if err := m.locks.Release(ctx, adID); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("placement", stored.Placement).Msg("failed to release placement")
		}
	}

	if awi, ok := m.registry.Get(ad.Network); ok {
		if sn, ok := awi.Adapter.(adapters.ShowNotifier); ok {
			for _, t := range sn.ShowEvents(ad.Format) {
				m.emit(ctx, adapters.Event{
					Type:      t,
					AdID:      adID,
					RequestID: stored.RequestID,
					AdUnitID:  stored.AdUnitID,
					Network:   ad.Network,
					Format:    ad.Format,
				})
			}
		}
	}

	if rec := m.getMetrics(); rec != nil {
		rec.RecordAdShown(ad.Network, string(ad.Format))
	}
	return stored, nil
}

// ForwardEvent translates a network callback into host events and publishes them.
// Callbacks the network does not forward yield no events.
func (m *Mediator) ForwardEvent(ctx context.Context, ev adapters.NetworkEvent) ([]adapters.Event, error) {
	awi, ok := m.registry.Get(ev.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, ev.Network)
	}

	// A callback for an ad that is still cached inherits its format and reward
	var stored *store.StoredAd
	if ev.AdID != "" {
		if s, err := m.ads.Get(ctx, ev.AdID); err == nil {
			stored = s
			if ev.Format == "" {
				ev.Format = s.Ad.Format
			}
		}
	}

	types := awi.Adapter.TranslateEvent(ev)
	if len(types) == 0 {
		if rec := m.getMetrics(); rec != nil {
			rec.RecordEventDropped(ev.Network)
		}
		logger.Events().Debug().Str("network", ev.Network).Str("callback", ev.Name).Msg("callback not forwarded")
		return nil, nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}

	events := make([]adapters.Event, 0, len(types))
	for _, t := range types {
		out := adapters.Event{
			Type:      t,
			AdID:      ev.AdID,
			Network:   ev.Network,
			Format:    ev.Format,
			Timestamp: ts,
		}
		if stored != nil {
			out.RequestID = stored.RequestID
			out.AdUnitID = stored.AdUnitID
		}
		switch t {
		case adapters.EventRewarded:
			out.Reward = rewardFor(ev, stored)
		case adapters.EventFailedToShow, adapters.EventFailedToLoad:
			out.Error = errorFor(ev)
		}
		if t == adapters.EventClosed || t == adapters.EventFailedToShow {
			if err := m.locks.Release(ctx, ev.AdID); err != nil {
				logger.Events().Warn().Err(err).Str("ad_id", ev.AdID).Msg("failed to release placement")
			}
		}

		m.emit(ctx, out)
		if rec := m.getMetrics(); rec != nil {
			rec.RecordEvent(ev.Network, string(t))
		}
		events = append(events, out)
	}
	return events, nil
}

// rewardFor takes the reward from the callback payload, then from the cached ad
func rewardFor(ev adapters.NetworkEvent, stored *store.StoredAd) *adapters.Reward {
	reward := &adapters.Reward{Amount: 1}
	if stored != nil && stored.Ad.Reward != nil {
		*reward = *stored.Ad.Reward
	}
	if t := ev.Payload["reward_type"]; t != "" {
		reward.Type = t
	}
	if a, err := strconv.Atoi(ev.Payload["reward_amount"]); err == nil && a > 0 {
		reward.Amount = a
	}
	return reward
}

func errorFor(ev adapters.NetworkEvent) *adapters.ErrorInfo {
	info := &adapters.ErrorInfo{
		Domain:  "mediation." + ev.Network,
		Message: ev.Payload["error_message"],
	}
	if code, err := strconv.Atoi(ev.Payload["error_code"]); err == nil {
		info.Code = code
	}
	if info.Message == "" {
		info.Message = ev.Name
	}
	return info
}

// emit publishes a host event; sink failures are logged, never returned
func (m *Mediator) emit(ctx context.Context, ev adapters.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if m.sink == nil {
		return
	}
	if err := m.sink.Publish(ctx, ev); err != nil {
		logger.Events().Warn().Err(err).Str("type", string(ev.Type)).Str("network", ev.Network).Msg("failed to publish event")
	}
}
