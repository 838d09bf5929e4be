// Package vungle implements the Liftoff Monetize (Vungle) adapter
package vungle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	networkCode     = "vungle"
	defaultEndpoint = "https://ads.api.vungle.com/api/v5/ads"

	paramAppID     = "appid"
	paramPlacement = "placementID"

	extraUserID      = "userId"
	extraStartMuted  = "startMuted"
	extraOrientation = "adOrientation"
)

// Banner sizes served by Vungle, in matching order
var bannerSizes = []struct {
	size adsize.Size
	name string
}{
	{adsize.Banner, "BANNER"},
	{adsize.ShortBanner, "BANNER_SHORT"},
	{adsize.Leaderboard, "BANNER_LEADERBOARD"},
	{adsize.MRec, "VUNGLE_MREC"},
}

// Orientations accepted in the adOrientation extra
var orientations = map[int]string{
	0: "portrait",
	1: "landscape",
	2: "auto_rotate",
}

// Adapter implements the Vungle adapter
type Adapter struct {
	mu    sync.RWMutex
	appID string
	now   func() time.Time
}

type vungleRequest struct {
	AppID       string        `json:"app_id"`
	PlacementID string        `json:"placement_reference_id"`
	AdType      string        `json:"ad_type"`
	AdSize      string        `json:"ad_size,omitempty"`
	AdMarkup    string        `json:"adm,omitempty"`
	UserID      string        `json:"user,omitempty"`
	StartMuted  bool          `json:"is_muted"`
	Orientation string        `json:"orientation,omitempty"`
	Test        bool          `json:"test,omitempty"`
	COPPA       bool          `json:"coppa,omitempty"`
	Device      *vungleDevice `json:"device,omitempty"`
}

type vungleDevice struct {
	IFA      string  `json:"ifa,omitempty"`
	OS       string  `json:"os,omitempty"`
	OSV      string  `json:"osv,omitempty"`
	UA       string  `json:"ua,omitempty"`
	W        int     `json:"w"`
	H        int     `json:"h"`
	PxRatio  float64 `json:"pxratio,omitempty"`
	Language string  `json:"language,omitempty"`
}

type vungleResponse struct {
	Ads []vungleAd `json:"ads"`
}

type vungleAd struct {
	AdMarkup vungleMarkup `json:"ad_markup"`
}

type vungleMarkup struct {
	ID          string        `json:"id"`
	CampaignID  string        `json:"campaign"`
	Markup      string        `json:"adm"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Expiry      int64         `json:"expiry,omitempty"` // Unix seconds
	ClickURL    string        `json:"click_url,omitempty"`
	Impressions []string      `json:"tpat_impression,omitempty"`
	Reward      *vungleReward `json:"reward,omitempty"`
	Native      *vungleNative `json:"native,omitempty"`
}

type vungleReward struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"`
}

type vungleNative struct {
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	CallToAction string  `json:"cta"`
	Sponsored    string  `json:"sponsored"`
	IconURL      string  `json:"icon_url"`
	MainImageURL string  `json:"main_image_url"`
	Rating       float64 `json:"rating"`
	PrivacyURL   string  `json:"privacy_url"`
	HasVideo     bool    `json:"has_video"`
}

// New creates a new Vungle adapter
func New(_ string) *Adapter {
	return &Adapter{now: time.Now}
}

// Info returns Vungle information
func Info() adapters.NetworkInfo {
	sizes := make([]adsize.Size, 0, len(bannerSizes))
	for _, bs := range bannerSizes {
		sizes = append(sizes, bs.size)
	}
	return adapters.NetworkInfo{
		Enabled:    true,
		Formats:    []adapters.Format{adapters.FormatBanner, adapters.FormatInterstitial, adapters.FormatRewarded, adapters.FormatNative},
		Sizes:      sizes,
		Endpoint:   defaultEndpoint,
		Maintainer: "support@vungle.com",
	}
}

// Initialize configures the SDK app ID. Vungle supports a single app ID per
// process: when ad units disagree the first one is used.
func (a *Adapter) Initialize(ctx context.Context, params []adapters.ServerParameters) error {
	var appIDs []string
	seen := make(map[string]bool)
	for _, p := range params {
		id := p.Get(paramAppID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		appIDs = append(appIDs, id)
	}
	if len(appIDs) == 0 {
		return adapters.NewInvalidServerParametersError(networkCode, paramAppID)
	}

	log := logger.FromContext(ctx)
	if len(appIDs) > 1 {
		log.Warn().
			Strs("app_ids", appIDs).
			Str("using", appIDs[0]).
			Msg("multiple vungle app IDs configured, initializing with the first one")
	}

	a.mu.Lock()
	a.appID = appIDs[0]
	a.mu.Unlock()
	return nil
}

// AppID returns the app ID the adapter was initialized with
func (a *Adapter) AppID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appID
}

// BannerSizeName maps the requested size onto the closest Vungle banner
func BannerSizeName(requested adsize.Size) (adsize.Size, string, error) {
	candidates := make([]adsize.Size, 0, len(bannerSizes))
	for _, bs := range bannerSizes {
		candidates = append(candidates, bs.size)
	}
	matched, err := adapters.MatchSize(networkCode, requested, candidates)
	if err != nil {
		return adsize.Size{}, "", err
	}
	for _, bs := range bannerSizes {
		if bs.size == matched {
			return matched, bs.name, nil
		}
	}
	return adsize.Size{}, "", adapters.NewSizeMismatchError(networkCode, requested, candidates)
}

// PlacementKey reserves the placement: Vungle holds one live ad per placement
func (a *Adapter) PlacementKey(request *adapters.AdRequest) (string, bool) {
	placement := request.ServerParameters.Get(paramPlacement)
	return placement, placement != ""
}

// MakeRequests builds the Vungle ad request
func (a *Adapter) MakeRequests(request *adapters.AdRequest, extraInfo *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	appID := request.ServerParameters.Get(paramAppID)
	if appID == "" {
		appID = a.AppID()
	}
	placementID := request.ServerParameters.Get(paramPlacement)

	var missing []string
	if appID == "" {
		missing = append(missing, paramAppID)
	}
	if placementID == "" {
		missing = append(missing, paramPlacement)
	}
	if len(missing) > 0 {
		return nil, []error{adapters.NewInvalidServerParametersError(networkCode, missing...)}
	}

	vreq := vungleRequest{
		AppID:       appID,
		PlacementID: placementID,
		AdType:      string(request.Format),
		AdMarkup:    request.BidResponse,
		UserID:      request.Extras.String(extraUserID),
		StartMuted:  request.Extras.Bool(extraStartMuted, request.Format == adapters.FormatBanner),
		Orientation: orientations[request.Extras.Int(extraOrientation, 2)],
		Test:        request.TestMode,
		COPPA:       request.ChildDirected,
		Device: &vungleDevice{
			W:       request.Screen.WidthDP,
			H:       request.Screen.HeightDP,
			PxRatio: request.Screen.Density,
		},
	}
	if vreq.UserID == "" {
		vreq.UserID = request.UserID
	}
	if d := request.Device; d != nil {
		vreq.Device.IFA = d.IFA
		vreq.Device.OS = d.OS
		vreq.Device.OSV = d.OSVersion
		vreq.Device.UA = d.UA
		vreq.Device.Language = d.Language
	}

	if request.Format == adapters.FormatBanner {
		_, name, err := BannerSizeName(request.Size)
		if err != nil {
			return nil, []error{err}
		}
		vreq.AdSize = name
	}

	uri := defaultEndpoint
	if extraInfo != nil && extraInfo.Endpoint != "" {
		uri = extraInfo.Endpoint
	}

	headers := http.Header{}
	headers.Set("X-Vungle-App-Id", appID)
	return adapters.PostJSON(networkCode, uri, vreq, headers)
}

// MakeAds parses the Vungle ad response
func (a *Adapter) MakeAds(request *adapters.AdRequest, responseData *adapters.ResponseData) (*adapters.AdResponse, []error) {
	if responseData.StatusCode == http.StatusNoContent {
		return nil, []error{adapters.NewNoFillError(networkCode, "")}
	}
	if responseData.StatusCode != http.StatusOK {
		return nil, []error{adapters.NewBadStatusError(networkCode, responseData.StatusCode)}
	}

	var resp vungleResponse
	if err := json.Unmarshal(responseData.Body, &resp); err != nil {
		return nil, []error{adapters.NewParseError(networkCode, err)}
	}
	if len(resp.Ads) == 0 {
		return nil, []error{adapters.NewNoFillError(networkCode, "")}
	}

	m := resp.Ads[0].AdMarkup
	ad := &adapters.AdResponse{
		Network:            networkCode,
		Format:             request.Format,
		CreativeID:         m.CampaignID,
		ClickURL:           m.ClickURL,
		ImpressionTrackers: m.Impressions,
	}
	if m.Expiry > 0 {
		remaining := time.Unix(m.Expiry, 0).Sub(a.now())
		if remaining <= 0 {
			return nil, []error{adapters.NewNoFillError(networkCode, "ad already expired")}
		}
		ad.ExpiresIn = int(remaining.Seconds())
	}

	switch request.Format {
	case adapters.FormatNative:
		if m.Native == nil {
			return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("ad %s has no native assets", m.ID))}
		}
		ad.Native = &adapters.NativeAssets{
			Headline:     m.Native.Title,
			Body:         m.Native.Body,
			CallToAction: m.Native.CallToAction,
			Advertiser:   m.Native.Sponsored,
			IconURL:      m.Native.IconURL,
			StarRating:   m.Native.Rating,
			AdChoicesURL: m.Native.PrivacyURL,
			HasVideo:     m.Native.HasVideo,
		}
		if m.Native.MainImageURL != "" {
			ad.Native.ImageURLs = []string{m.Native.MainImageURL}
		}
		return ad, nil
	case adapters.FormatBanner:
		matched, _, err := BannerSizeName(request.Size)
		if err != nil {
			return nil, []error{err}
		}
		ad.Size = &matched
	case adapters.FormatRewarded:
		// Vungle grants a fixed reward unless the campaign overrides it
		ad.Reward = &adapters.Reward{Type: "vungle", Amount: 1}
		if m.Reward != nil && m.Reward.Amount > 0 {
			ad.Reward = &adapters.Reward{Type: m.Reward.Name, Amount: m.Reward.Amount}
		}
	}

	if m.Markup == "" {
		return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("ad %s has no markup", m.ID))}
	}
	ad.Markup = m.Markup
	return ad, nil
}

// TranslateEvent maps Vungle ad listener callbacks onto host events
func (a *Adapter) TranslateEvent(event adapters.NetworkEvent) []adapters.EventType {
	switch event.Name {
	case "onAdLoaded":
		return []adapters.EventType{adapters.EventLoaded}
	case "onAdFailedToLoad":
		return []adapters.EventType{adapters.EventFailedToLoad}
	case "onAdStart":
		switch event.Format {
		case adapters.FormatRewarded:
			return []adapters.EventType{adapters.EventOpened, adapters.EventVideoStarted}
		case adapters.FormatInterstitial:
			return []adapters.EventType{adapters.EventOpened}
		}
		return nil
	case "onAdImpression":
		return []adapters.EventType{adapters.EventImpression}
	case "onAdClicked":
		if event.Format == adapters.FormatBanner {
			return []adapters.EventType{adapters.EventClicked, adapters.EventOpened}
		}
		return []adapters.EventType{adapters.EventClicked}
	case "onAdLeftApplication":
		return []adapters.EventType{adapters.EventLeftApplication}
	case "onAdRewarded":
		return []adapters.EventType{adapters.EventVideoCompleted, adapters.EventRewarded}
	case "onAdEnd":
		return []adapters.EventType{adapters.EventClosed}
	case "onAdFailedToPlay":
		return []adapters.EventType{adapters.EventFailedToShow}
	}
	return nil
}

func init() {
	if err := adapters.RegisterAdapter(networkCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register %s adapter: %v", networkCode, err))
	}
}
