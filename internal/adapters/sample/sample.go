// Package sample implements the reference Sample network adapter.
// It never leaves the process: requests carry a locally generated ad
// and are answered by the HTTP client's MOCK path.
package sample

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	networkCode = "sample"

	paramAdUnit = "parameter"

	extraAwesomeIntro = "awesome_intro"
	extraRewardAmount = "reward_amount"
)

// Sample SDK error codes
const (
	errorBadRequest  = "BAD_REQUEST"
	errorNoInventory = "NO_INVENTORY"
	errorNetwork     = "NETWORK_ERROR"
)

// Adapter implements the Sample adapter
type Adapter struct{}

type sampleAd struct {
	AdUnit       string        `json:"ad_unit"`
	Error        string        `json:"error,omitempty"`
	Markup       string        `json:"markup,omitempty"`
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	AwesomeIntro bool          `json:"awesome_intro,omitempty"`
	RewardType   string        `json:"reward_type,omitempty"`
	RewardAmount int           `json:"reward_amount,omitempty"`
	Native       *sampleNative `json:"native,omitempty"`
}

type sampleNative struct {
	Headline     string  `json:"headline"`
	Body         string  `json:"body"`
	ImageURL     string  `json:"image_url"`
	IconURL      string  `json:"icon_url"`
	CallToAction string  `json:"call_to_action"`
	Advertiser   string  `json:"advertiser"`
	StarRating   float64 `json:"star_rating"`
	Store        string  `json:"store"`
	Price        string  `json:"price"`
}

// New creates a new Sample adapter
func New(_ string) *Adapter {
	return &Adapter{}
}

// Info returns Sample information
func Info() adapters.NetworkInfo {
	return adapters.NetworkInfo{
		Enabled:    true,
		Formats:    []adapters.Format{adapters.FormatBanner, adapters.FormatInterstitial, adapters.FormatRewarded, adapters.FormatNative},
		Endpoint:   "sample://mock-response",
		Maintainer: "mobile-ads-sdk@google.com",
	}
}

// Initialize requires at least one ad unit
func (a *Adapter) Initialize(ctx context.Context, params []adapters.ServerParameters) error {
	units := 0
	for _, p := range params {
		if p.Get(paramAdUnit) != "" {
			units++
		}
	}
	if units == 0 {
		return adapters.NewInvalidServerParametersError(networkCode, paramAdUnit)
	}
	logger.FromContext(ctx).Debug().Int("ad_units", units).Msg("sample initialized")
	return nil
}

// MakeRequests generates the ad locally and wraps it in a MOCK request.
// Any banner size is served as requested.
func (a *Adapter) MakeRequests(request *adapters.AdRequest, _ *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	adUnit := request.ServerParameters.Get(paramAdUnit)
	if adUnit == "" {
		return nil, []error{adapters.NewInvalidServerParametersError(networkCode, paramAdUnit)}
	}

	ad := sampleAd{AdUnit: adUnit}
	switch request.Format {
	case adapters.FormatBanner:
		if request.Size.Width <= 0 || request.Size.Height <= 0 {
			return nil, []error{adapters.NewSizeMismatchError(networkCode, request.Size, nil)}
		}
		ad.Width = request.Size.Width
		ad.Height = request.Size.Height
		ad.Markup = mockCreative(adUnit, ad.Width, ad.Height)
	case adapters.FormatInterstitial:
		ad.Width = request.Screen.WidthDP
		ad.Height = request.Screen.HeightDP
		ad.AwesomeIntro = request.Extras.Bool(extraAwesomeIntro, false)
		ad.Markup = mockCreative(adUnit, ad.Width, ad.Height)
	case adapters.FormatRewarded:
		ad.AwesomeIntro = request.Extras.Bool(extraAwesomeIntro, false)
		ad.Markup = mockCreative(adUnit, request.Screen.WidthDP, request.Screen.HeightDP)
		ad.RewardType = "coins"
		ad.RewardAmount = request.Extras.Int(extraRewardAmount, 1)
	case adapters.FormatNative:
		ad.Native = &sampleNative{
			Headline:     "Sample Native Ad",
			Body:         "Sample body text for " + adUnit,
			ImageURL:     "https://www.gstatic.com/sample/image.png",
			IconURL:      "https://www.gstatic.com/sample/icon.png",
			CallToAction: "Install",
			Advertiser:   "Sample Advertiser",
			StarRating:   4.5,
			Store:        "Google Play",
			Price:        "Free",
		}
	default:
		return nil, []error{adapters.NewUnsupportedFormatError(networkCode, request.Format)}
	}

	body, err := json.Marshal(ad)
	if err != nil {
		return nil, []error{adapters.NewMarshalError(networkCode, err)}
	}

	return []*adapters.RequestData{{
		Method: adapters.MethodMock,
		URI:    "sample://mock-response",
		Body:   body,
		Headers: http.Header{
			"Content-Type": []string{"application/json"},
		},
	}}, nil
}

func mockCreative(adUnit string, width, height int) string {
	return fmt.Sprintf(`<div style="width:%dpx;height:%dpx;background:#4285f4;color:#fff;display:flex;align-items:center;justify-content:center;font-family:sans-serif">Sample ad %s</div>`,
		width, height, adUnit)
}

// MakeAds parses the generated ad
func (a *Adapter) MakeAds(request *adapters.AdRequest, responseData *adapters.ResponseData) (*adapters.AdResponse, []error) {
	if responseData.StatusCode != http.StatusOK {
		return nil, []error{adapters.NewBadStatusError(networkCode, responseData.StatusCode)}
	}

	var sad sampleAd
	if err := json.Unmarshal(responseData.Body, &sad); err != nil {
		return nil, []error{adapters.NewParseError(networkCode, err)}
	}

	switch strings.ToUpper(sad.Error) {
	case "":
	case errorNoInventory:
		return nil, []error{adapters.NewNoFillError(networkCode, "no inventory")}
	case errorBadRequest:
		return nil, []error{adapters.NewInvalidServerParametersError(networkCode, paramAdUnit)}
	case errorNetwork:
		return nil, []error{adapters.NewNetworkError(networkCode, fmt.Errorf("sample network error"))}
	default:
		return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("sample error %s", sad.Error))}
	}

	ad := &adapters.AdResponse{
		Network:    networkCode,
		Format:     request.Format,
		CreativeID: sad.AdUnit,
	}

	if request.Format == adapters.FormatNative {
		if sad.Native == nil {
			return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("missing native ad"))}
		}
		ad.Native = &adapters.NativeAssets{
			Headline:     sad.Native.Headline,
			Body:         sad.Native.Body,
			CallToAction: sad.Native.CallToAction,
			Advertiser:   sad.Native.Advertiser,
			IconURL:      sad.Native.IconURL,
			StarRating:   sad.Native.StarRating,
			Store:        sad.Native.Store,
			Price:        sad.Native.Price,
		}
		if sad.Native.ImageURL != "" {
			ad.Native.ImageURLs = []string{sad.Native.ImageURL}
		}
		return ad, nil
	}

	if sad.Markup == "" {
		return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("missing markup"))}
	}
	ad.Markup = sad.Markup

	switch request.Format {
	case adapters.FormatBanner:
		ad.Size = &adsize.Size{Width: sad.Width, Height: sad.Height}
	case adapters.FormatRewarded:
		ad.Reward = &adapters.Reward{Type: sad.RewardType, Amount: sad.RewardAmount}
		if ad.Reward.Amount <= 0 {
			ad.Reward.Amount = 1
		}
	}
	return ad, nil
}

// TranslateEvent maps Sample SDK listener callbacks onto host events
func (a *Adapter) TranslateEvent(event adapters.NetworkEvent) []adapters.EventType {
	switch event.Name {
	case "onAdLoaded":
		return []adapters.EventType{adapters.EventLoaded}
	case "onAdFetchFailed":
		return []adapters.EventType{adapters.EventFailedToLoad}
	case "onAdClicked":
		if event.Format == adapters.FormatBanner {
			return []adapters.EventType{adapters.EventClicked, adapters.EventOpened, adapters.EventLeftApplication}
		}
		return []adapters.EventType{adapters.EventClicked}
	case "onAdFullScreen":
		return []adapters.EventType{adapters.EventOpened, adapters.EventImpression}
	case "onAdClosed":
		return []adapters.EventType{adapters.EventClosed}
	case "onAdRewarded":
		return []adapters.EventType{adapters.EventVideoCompleted, adapters.EventRewarded}
	}
	return nil
}

func init() {
	if err := adapters.RegisterAdapter(networkCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register %s adapter: %v", networkCode, err))
	}
}
