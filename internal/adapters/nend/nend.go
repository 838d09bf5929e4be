// Package nend implements the nend adapter
package nend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	networkCode     = "nend"
	defaultEndpoint = "https://ad1.nend.net/na.php"

	paramSpotID = "spotId"
	paramAPIKey = "apiKey"

	extraUserID           = "key_user_id"
	extraInterstitialType = "key_interstitial_type"

	interstitialTypeVideo = "TYPE_VIDEO"
)

// Response status codes
const (
	statusOK   = 1
	statusNoAd = 3
)

// Banner sizes nend serves; the request must name one of them exactly
var bannerSizes = []adsize.Size{
	adsize.Banner,
	adsize.LargeBanner,
	{Width: 300, Height: 100},
	adsize.MRec,
	adsize.Leaderboard,
}

// Adapter implements the nend adapter
type Adapter struct{}

type nendResponse struct {
	StatusCode int     `json:"status_code"`
	Message    string  `json:"message,omitempty"`
	Ad         *nendAd `json:"ad,omitempty"`
}

type nendAd struct {
	ID            string      `json:"id"`
	HTML          string      `json:"html,omitempty"`
	Width         int         `json:"width,omitempty"`
	Height        int         `json:"height,omitempty"`
	ClickURL      string      `json:"click_url,omitempty"`
	ImpressionURL string      `json:"impression_url,omitempty"`
	RewardName    string      `json:"reward_name,omitempty"`
	RewardAmount  int         `json:"reward_amount,omitempty"`
	Native        *nendNative `json:"native,omitempty"`
}

type nendNative struct {
	TitleText      string `json:"title_text"`
	ContentText    string `json:"content_text"`
	PromotionName  string `json:"promotion_name"`
	PromotionURL   string `json:"promotion_url"`
	ActionText     string `json:"action_text"`
	AdImageURL     string `json:"ad_image_url"`
	LogoImageURL   string `json:"logo_image_url"`
	InformationURL string `json:"information_url"`
}

// New creates a new nend adapter
func New(_ string) *Adapter {
	return &Adapter{}
}

// Info returns nend information
func Info() adapters.NetworkInfo {
	return adapters.NetworkInfo{
		Enabled:    true,
		Formats:    []adapters.Format{adapters.FormatBanner, adapters.FormatInterstitial, adapters.FormatRewarded, adapters.FormatNative},
		Sizes:      bannerSizes,
		Endpoint:   defaultEndpoint,
		Maintainer: "support@nend.net",
	}
}

// Initialize checks the spot credentials of every ad unit
func (a *Adapter) Initialize(ctx context.Context, params []adapters.ServerParameters) error {
	valid := 0
	for _, p := range params {
		if _, _, err := credentials(p); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("skipping nend ad unit with invalid credentials")
			continue
		}
		valid++
	}
	if valid == 0 {
		return adapters.NewInvalidServerParametersError(networkCode, paramSpotID, paramAPIKey)
	}
	return nil
}

// credentials returns the numeric spot ID and API key
func credentials(params adapters.ServerParameters) (int, string, error) {
	apiKey := params.Get(paramAPIKey)
	spot := params.Get(paramSpotID)
	if apiKey == "" || spot == "" {
		return 0, "", adapters.NewInvalidServerParametersError(networkCode, paramSpotID, paramAPIKey)
	}
	spotID, err := strconv.Atoi(spot)
	if err != nil || spotID <= 0 {
		return 0, "", adapters.NewInvalidServerParametersError(networkCode, paramSpotID)
	}
	return spotID, apiKey, nil
}

// MakeRequests builds the nend ad request
func (a *Adapter) MakeRequests(request *adapters.AdRequest, extraInfo *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	spotID, apiKey, err := credentials(request.ServerParameters)
	if err != nil {
		return nil, []error{err}
	}

	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("spot", strconv.Itoa(spotID))

	switch request.Format {
	case adapters.FormatBanner:
		size, err := adapters.RequireExactSize(networkCode, request.Size, bannerSizes)
		if err != nil {
			return nil, []error{err}
		}
		q.Set("format", "banner")
		q.Set("size", size.String())
	case adapters.FormatInterstitial:
		if request.Extras.String(extraInterstitialType) == interstitialTypeVideo {
			q.Set("format", "interstitial_video")
		} else {
			q.Set("format", "interstitial")
		}
	case adapters.FormatRewarded:
		q.Set("format", "reward_video")
		userID := request.Extras.String(extraUserID)
		if userID == "" {
			userID = request.UserID
		}
		if userID != "" {
			q.Set("uid", userID)
		}
	case adapters.FormatNative:
		q.Set("format", "native")
	default:
		return nil, []error{adapters.NewUnsupportedFormatError(networkCode, request.Format)}
	}

	if request.Device != nil && request.Device.IFA != "" && !request.Device.LimitAdTracking {
		q.Set("gaid", request.Device.IFA)
	}
	if request.App != nil && request.App.Bundle != "" {
		q.Set("app", request.App.Bundle)
	}
	if request.TestMode {
		q.Set("test", "1")
	}

	uri := defaultEndpoint
	if extraInfo != nil && extraInfo.Endpoint != "" {
		uri = extraInfo.Endpoint
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if request.Device != nil && request.Device.UA != "" {
		headers.Set("User-Agent", request.Device.UA)
	}

	return []*adapters.RequestData{{
		Method:  http.MethodGet,
		URI:     uri + "?" + q.Encode(),
		Headers: headers,
	}}, nil
}

// MakeAds parses the nend ad response
func (a *Adapter) MakeAds(request *adapters.AdRequest, responseData *adapters.ResponseData) (*adapters.AdResponse, []error) {
	if responseData.StatusCode != http.StatusOK {
		return nil, []error{adapters.NewBadStatusError(networkCode, responseData.StatusCode)}
	}

	var resp nendResponse
	if err := json.Unmarshal(responseData.Body, &resp); err != nil {
		return nil, []error{adapters.NewParseError(networkCode, err)}
	}

	switch resp.StatusCode {
	case statusOK:
	case statusNoAd:
		return nil, []error{adapters.NewNoFillError(networkCode, resp.Message)}
	default:
		err := adapters.NewBadStatusError(networkCode, resp.StatusCode)
		if resp.Message != "" {
			err.Message += ": " + resp.Message
		}
		return nil, []error{err}
	}
	if resp.Ad == nil {
		return nil, []error{adapters.NewNoFillError(networkCode, "")}
	}

	nad := resp.Ad
	ad := &adapters.AdResponse{
		Network:    networkCode,
		Format:     request.Format,
		CreativeID: nad.ID,
		ClickURL:   nad.ClickURL,
	}
	if nad.ImpressionURL != "" {
		ad.ImpressionTrackers = []string{nad.ImpressionURL}
	}

	if request.Format == adapters.FormatNative {
		if nad.Native == nil {
			return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("ad %s has no native assets", nad.ID))}
		}
		ad.Native = &adapters.NativeAssets{
			Headline:     nad.Native.TitleText,
			Body:         nad.Native.ContentText,
			CallToAction: nad.Native.ActionText,
			Advertiser:   nad.Native.PromotionName,
			IconURL:      nad.Native.LogoImageURL,
			AdChoicesURL: nad.Native.InformationURL,
		}
		if nad.Native.AdImageURL != "" {
			ad.Native.ImageURLs = []string{nad.Native.AdImageURL}
		}
		if ad.ClickURL == "" {
			ad.ClickURL = nad.Native.PromotionURL
		}
		return ad, nil
	}

	if nad.HTML == "" {
		return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("ad %s has no markup", nad.ID))}
	}
	ad.Markup = nad.HTML

	switch request.Format {
	case adapters.FormatBanner:
		size := request.Size
		if nad.Width > 0 && nad.Height > 0 {
			size = adsize.Size{Width: nad.Width, Height: nad.Height}
		}
		ad.Size = &size
	case adapters.FormatRewarded:
		ad.Reward = &adapters.Reward{Type: nad.RewardName, Amount: nad.RewardAmount}
		if ad.Reward.Amount <= 0 {
			ad.Reward.Amount = 1
		}
	}
	return ad, nil
}

// TranslateEvent maps nend listener callbacks onto host events
func (a *Adapter) TranslateEvent(event adapters.NetworkEvent) []adapters.EventType {
	switch event.Name {
	case "onReceiveAd", "onLoaded":
		return []adapters.EventType{adapters.EventLoaded}
	case "onFailedToReceiveAd", "onFailedToLoad":
		return []adapters.EventType{adapters.EventFailedToLoad}
	case "onClick":
		if event.Format.FullScreen() {
			return []adapters.EventType{adapters.EventClicked, adapters.EventLeftApplication}
		}
		return []adapters.EventType{adapters.EventClicked, adapters.EventOpened, adapters.EventLeftApplication}
	case "onInformationClicked":
		return []adapters.EventType{adapters.EventLeftApplication}
	case "onImpression":
		return []adapters.EventType{adapters.EventImpression}
	case "onShown":
		return []adapters.EventType{adapters.EventOpened}
	case "onStartPlaying":
		return []adapters.EventType{adapters.EventVideoStarted}
	case "onCompletePlaying":
		return []adapters.EventType{adapters.EventVideoCompleted}
	case "onRewarded":
		return []adapters.EventType{adapters.EventRewarded}
	case "onDismissScreen", "onClosed":
		return []adapters.EventType{adapters.EventClosed}
	case "onFailedToPlay":
		return []adapters.EventType{adapters.EventFailedToShow}
	}
	return nil
}

func init() {
	if err := adapters.RegisterAdapter(networkCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register %s adapter: %v", networkCode, err))
	}
}
