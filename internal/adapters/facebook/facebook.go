// Package facebook implements the Meta Audience Network adapter.
// Audience Network only serves bidding requests: the host passes the bid
// payload it won and the adapter redeems it for the ad.
package facebook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/openrtb"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	networkCode     = "facebook"
	defaultEndpoint = "https://an.facebook.com/placementbid.ortb"

	paramPlacement = "pubid"
	paramAppSecret = "app_secret"
)

// Banner heights Audience Network renders at any width
var bannerHeights = []int{50, 90, 250}

// Adapter implements the Audience Network adapter
type Adapter struct {
	platformID string
}

type requestExt struct {
	PlatformID string `json:"platformid,omitempty"`
	AuthID     string `json:"authentication_id,omitempty"`
}

// New creates a new Audience Network adapter
func New(platformID string) *Adapter {
	return &Adapter{platformID: platformID}
}

// Info returns Audience Network information
func Info() adapters.NetworkInfo {
	return adapters.NetworkInfo{
		Enabled:    true,
		Formats:    []adapters.Format{adapters.FormatBanner, adapters.FormatInterstitial, adapters.FormatRewarded, adapters.FormatNative},
		Endpoint:   defaultEndpoint,
		Maintainer: "mediation@fb.com",
	}
}

// Initialize validates that every ad unit carries a placement ID
func (a *Adapter) Initialize(ctx context.Context, params []adapters.ServerParameters) error {
	var placements []string
	for _, p := range params {
		if id := p.Get(paramPlacement); id != "" {
			placements = append(placements, id)
		}
	}
	if len(placements) == 0 {
		return adapters.NewInvalidServerParametersError(networkCode, paramPlacement)
	}

	logger.FromContext(ctx).Debug().
		Str("network", networkCode).
		Int("placements", len(placements)).
		Msg("audience network initialized")
	return nil
}

// BannerSizes returns the sizes Audience Network can render for a slot of
// the requested width
func BannerSizes(requested adsize.Size) []adsize.Size {
	sizes := make([]adsize.Size, 0, len(bannerHeights))
	for _, h := range bannerHeights {
		sizes = append(sizes, adsize.Size{Width: requested.Width, Height: h})
	}
	return sizes
}

// MakeRequests builds the placement bid redemption request
func (a *Adapter) MakeRequests(request *adapters.AdRequest, extraInfo *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	placementID, publisherID, err := splitPlacement(request.ServerParameters.Get(paramPlacement))
	if err != nil {
		return nil, []error{err}
	}
	if !request.IsBidding() {
		return nil, []error{adapters.NewInvalidServerParametersError(networkCode, "bid_response")}
	}

	var bannerSize adsize.Size
	if request.Format == adapters.FormatBanner {
		if bannerSize, err = adapters.MatchSize(networkCode, request.Size, BannerSizes(request.Size)); err != nil {
			return nil, []error{err}
		}
	}

	bidReq, err := adapters.NewBidRequest(request, placementID, bannerSize)
	if err != nil {
		return nil, []error{err}
	}
	if publisherID != "" {
		bidReq.Imp[0].TagID = publisherID + "_" + placementID
		if bidReq.App != nil {
			bidReq.App.Publisher = &openrtb.Publisher{ID: publisherID}
		}
	}

	ext := requestExt{PlatformID: a.platformID}
	if secret := request.ServerParameters.Get(paramAppSecret); secret != "" {
		ext.AuthID = makeAuthID(secret, bidReq.ID)
	}
	if bidReq.Ext, err = json.Marshal(ext); err != nil {
		return nil, []error{adapters.NewMarshalError(networkCode, err)}
	}

	body, err := json.Marshal(bidReq)
	if err != nil {
		return nil, []error{adapters.NewMarshalError(networkCode, err)}
	}
	if body, err = modifyImp(body, request.Format, bannerSize); err != nil {
		return nil, []error{adapters.NewMarshalError(networkCode, err)}
	}

	uri := defaultEndpoint
	if extraInfo != nil && extraInfo.Endpoint != "" {
		uri = extraInfo.Endpoint
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json;charset=utf-8")
	headers.Set("Accept", "application/json")
	headers.Set("X-Fb-Pool-Routing-Token", request.BidResponse)

	return []*adapters.RequestData{{
		Method:  http.MethodPost,
		URI:     uri,
		Body:    body,
		Headers: headers,
	}}, nil
}

// modifyImp applies the Audience Network conventions the OpenRTB model
// cannot express: -1 for flexible width and no native request payload
func modifyImp(body []byte, format adapters.Format, bannerSize adsize.Size) ([]byte, error) {
	var err error
	switch format {
	case adapters.FormatBanner:
		if bannerSize != adsize.Banner {
			if body, err = jsonparser.Set(body, []byte("-1"), "imp", "[0]", "banner", "w"); err != nil {
				return nil, err
			}
			body = jsonparser.Delete(body, "imp", "[0]", "banner", "format")
		}
	case adapters.FormatInterstitial:
		body = jsonparser.Delete(body, "imp", "[0]", "video")
		if body, err = jsonparser.Set(body, []byte("0"), "imp", "[0]", "banner", "w"); err != nil {
			return nil, err
		}
		if body, err = jsonparser.Set(body, []byte("0"), "imp", "[0]", "banner", "h"); err != nil {
			return nil, err
		}
	case adapters.FormatRewarded:
		if body, err = jsonparser.Set(body, []byte("0"), "imp", "[0]", "video", "w"); err != nil {
			return nil, err
		}
		if body, err = jsonparser.Set(body, []byte("0"), "imp", "[0]", "video", "h"); err != nil {
			return nil, err
		}
	case adapters.FormatNative:
		body = jsonparser.Delete(body, "imp", "[0]", "native", "request")
		body = jsonparser.Delete(body, "imp", "[0]", "native", "ver")
		if body, err = jsonparser.Set(body, []byte("-1"), "imp", "[0]", "native", "w"); err != nil {
			return nil, err
		}
		if body, err = jsonparser.Set(body, []byte("-1"), "imp", "[0]", "native", "h"); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// MakeAds parses the bid redemption response
func (a *Adapter) MakeAds(request *adapters.AdRequest, responseData *adapters.ResponseData) (*adapters.AdResponse, []error) {
	if responseData.StatusCode != http.StatusOK && responseData.StatusCode != http.StatusNoContent {
		err := adapters.NewBadStatusError(networkCode, responseData.StatusCode)
		if msg := responseData.Headers.Get("X-Fb-An-Errors"); msg != "" {
			err.Message += ": " + msg
		}
		return nil, []error{err}
	}

	bidResp, bid, err := adapters.ParseBidResponse(networkCode, responseData)
	if err != nil {
		return nil, []error{err}
	}

	adm := []byte(bid.AdM)
	bidID, err := jsonparser.GetString(adm, "bid_id")
	if err != nil || bidID == "" {
		return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("bid %s missing 'bid_id' in 'adm'", bid.ID))}
	}

	// The native assets travel next to the bid ID in the markup
	if request.Format == adapters.FormatNative {
		native, _, _, err := jsonparser.Get(adm, "native")
		if err != nil {
			return nil, []error{adapters.NewParseError(networkCode, fmt.Errorf("bid %s missing native assets", bid.ID))}
		}
		bid.AdM = string(native)
	}

	ad, err := adapters.AdFromBid(request, bid, bidResp.Cur)
	if err != nil {
		return nil, []error{err}
	}
	ad.CreativeID = bidID

	if request.Format == adapters.FormatBanner {
		matched, err := adapters.MatchSize(networkCode, request.Size, BannerSizes(request.Size))
		if err != nil {
			return nil, []error{err}
		}
		ad.Size = &matched
	}
	if request.Format == adapters.FormatRewarded {
		ad.Reward = &adapters.Reward{Amount: 1}
	}
	return ad, nil
}

// TranslateEvent maps Audience Network listener callbacks onto host events
func (a *Adapter) TranslateEvent(event adapters.NetworkEvent) []adapters.EventType {
	switch event.Name {
	case "onAdLoaded":
		return []adapters.EventType{adapters.EventLoaded}
	case "onError":
		return []adapters.EventType{adapters.EventFailedToLoad}
	case "onAdClicked":
		if event.Format.FullScreen() {
			return []adapters.EventType{adapters.EventClicked}
		}
		// Inline clicks open the browser on top of the app
		return []adapters.EventType{adapters.EventClicked, adapters.EventOpened, adapters.EventLeftApplication}
	case "onLoggingImpression":
		return []adapters.EventType{adapters.EventImpression}
	case "onInterstitialDisplayed":
		return []adapters.EventType{adapters.EventOpened}
	case "onInterstitialDismissed", "onRewardedVideoClosed", "onRewardedVideoActivityDestroyed":
		return []adapters.EventType{adapters.EventClosed}
	case "onRewardedVideoCompleted":
		return []adapters.EventType{adapters.EventVideoCompleted, adapters.EventRewarded}
	}
	return nil
}

// ShowEvents reports the events Audience Network does not raise itself
// when a rewarded ad is presented
func (a *Adapter) ShowEvents(format adapters.Format) []adapters.EventType {
	if format == adapters.FormatRewarded {
		return []adapters.EventType{adapters.EventOpened, adapters.EventVideoStarted}
	}
	return nil
}

// splitPlacement accepts both "placement" and "publisher_placement" IDs
func splitPlacement(value string) (placementID, publisherID string, err error) {
	if value == "" {
		return "", "", adapters.NewInvalidServerParametersError(networkCode, paramPlacement)
	}
	toks := strings.Split(value, "_")
	switch len(toks) {
	case 1:
		return toks[0], "", nil
	case 2:
		if toks[0] == "" || toks[1] == "" {
			break
		}
		return toks[1], toks[0], nil
	}
	return "", "", adapters.NewInvalidServerParametersError(networkCode, paramPlacement)
}

// makeAuthID is the hex sha256 HMAC of the request ID keyed by the app secret
func makeAuthID(secret, requestID string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(requestID))
	return hex.EncodeToString(h.Sum(nil))
}

func init() {
	if err := adapters.RegisterAdapter(networkCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register %s adapter: %v", networkCode, err))
	}
}
