// Package yandex implements the Yandex Mobile Ads adapter
package yandex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/buger/jsonparser"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	networkCode     = "yandex"
	defaultEndpoint = "https://yandex.ru/ads/prebid"

	paramBlockID = "blockID"
	// parameter holds a JSON object such as {"blockID":"R-M-123456-1"}
	paramParameter = "parameter"

	minBannerHeight = 50
)

// Block IDs look like R-M-123456-1, R-I-123456-2, R-123456-1 or 123456-1
var blockIDPattern = regexp.MustCompile(`^(?:R-(?:[A-Z]-)?)?(\d+)-(\d+)$`)

// Inline adaptive heights offered at the requested width
var adaptiveHeights = []int{50, 90, 100, 250}

// Adapter implements the Yandex adapter
type Adapter struct{}

// New creates a new Yandex adapter
func New(_ string) *Adapter {
	return &Adapter{}
}

// Info returns Yandex information
func Info() adapters.NetworkInfo {
	return adapters.NetworkInfo{
		Enabled:    true,
		Formats:    []adapters.Format{adapters.FormatBanner, adapters.FormatInterstitial, adapters.FormatRewarded, adapters.FormatNative},
		Endpoint:   defaultEndpoint,
		Maintainer: "prebid@yandex-team.com",
	}
}

// block is a parsed Yandex block ID
type block struct {
	ID     string
	PageID int64
	ImpID  int64
}

// parseBlock reads the block ID from the blockID key, or from the JSON parameter
func parseBlock(params adapters.ServerParameters) (block, error) {
	id := params.Get(paramBlockID)
	if id == "" {
		if raw := params.Get(paramParameter); raw != "" {
			id, _ = jsonparser.GetString([]byte(raw), paramBlockID)
		}
	}
	if id == "" {
		return block{}, adapters.NewInvalidServerParametersError(networkCode, paramBlockID)
	}

	m := blockIDPattern.FindStringSubmatch(id)
	if m == nil {
		return block{}, adapters.NewInvalidServerParametersError(networkCode, paramBlockID)
	}
	pageID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || pageID <= 0 {
		return block{}, adapters.NewInvalidServerParametersError(networkCode, paramBlockID)
	}
	impID, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil || impID <= 0 {
		return block{}, adapters.NewInvalidServerParametersError(networkCode, paramBlockID)
	}
	return block{ID: id, PageID: pageID, ImpID: impID}, nil
}

// Initialize validates the block IDs of the configured ad units
func (a *Adapter) Initialize(ctx context.Context, params []adapters.ServerParameters) error {
	valid := 0
	for _, p := range params {
		if _, err := parseBlock(p); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("skipping yandex ad unit")
			continue
		}
		valid++
	}
	if valid == 0 {
		return adapters.NewInvalidServerParametersError(networkCode, paramBlockID)
	}
	return nil
}

// InlineAdaptiveSize returns the inline adaptive banner for the requested slot:
// the requested width with the tallest offered height that fits
func InlineAdaptiveSize(requested adsize.Size) (adsize.Size, error) {
	if requested.Height < minBannerHeight {
		return adsize.Size{}, adapters.NewSizeMismatchError(networkCode, requested, candidates(requested.Width))
	}
	return adapters.MatchSize(networkCode, requested, candidates(requested.Width))
}

func candidates(width int) []adsize.Size {
	sizes := make([]adsize.Size, 0, len(adaptiveHeights))
	for _, h := range adaptiveHeights {
		sizes = append(sizes, adsize.Size{Width: width, Height: h})
	}
	return sizes
}

// MakeRequests builds the OpenRTB request for the block's page
func (a *Adapter) MakeRequests(request *adapters.AdRequest, extraInfo *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	b, err := parseBlock(request.ServerParameters)
	if err != nil {
		return nil, []error{err}
	}

	var bannerSize adsize.Size
	if request.Format == adapters.FormatBanner {
		if bannerSize, err = InlineAdaptiveSize(request.Size); err != nil {
			return nil, []error{err}
		}
	}

	bidReq, err := adapters.NewBidRequest(request, b.ID, bannerSize)
	if err != nil {
		return nil, []error{err}
	}
	if request.Format == adapters.FormatBanner {
		ext := fmt.Sprintf(`{"adaptive":"inline","max_height":%d}`, request.Size.Height)
		bidReq.Imp[0].Banner.Ext = []byte(ext)
	}

	endpoint := defaultEndpoint
	if extraInfo != nil && extraInfo.Endpoint != "" {
		endpoint = extraInfo.Endpoint
	}
	q := url.Values{}
	q.Set("imp-id", strconv.FormatInt(b.ImpID, 10))
	q.Set("target-ref", "mediation")
	uri := endpoint + "/" + strconv.FormatInt(b.PageID, 10) + "?" + q.Encode()

	headers := http.Header{}
	if request.Device != nil {
		if request.Device.UA != "" {
			headers.Set("User-Agent", request.Device.UA)
		}
		if request.Device.Language != "" {
			headers.Set("Accept-Language", request.Device.Language)
		}
	}
	return adapters.PostJSON(networkCode, uri, bidReq, headers)
}

// MakeAds parses the OpenRTB response. Rewarded bids may carry the reward
// item in ext.reward.
func (a *Adapter) MakeAds(request *adapters.AdRequest, responseData *adapters.ResponseData) (*adapters.AdResponse, []error) {
	bidResp, bid, err := adapters.ParseBidResponse(networkCode, responseData)
	if err != nil {
		return nil, []error{err}
	}

	ad, err := adapters.AdFromBid(request, bid, bidResp.Cur)
	if err != nil {
		return nil, []error{err}
	}

	if request.Format == adapters.FormatBanner && ad.Size != nil &&
		(ad.Size.Width > request.Size.Width || ad.Size.Height > request.Size.Height) {
		return nil, []error{adapters.NewSizeMismatchError(networkCode, *ad.Size, candidates(request.Size.Width))}
	}

	if request.Format == adapters.FormatRewarded {
		ad.Reward = &adapters.Reward{Amount: 1}
		if len(bid.Ext) > 0 {
			if t, err := jsonparser.GetString(bid.Ext, "reward", "type"); err == nil {
				ad.Reward.Type = t
			}
			if n, err := jsonparser.GetInt(bid.Ext, "reward", "amount"); err == nil && n > 0 {
				ad.Reward.Amount = int(n)
			}
		}
	}
	return ad, nil
}

// TranslateEvent maps Yandex listener callbacks onto host events
func (a *Adapter) TranslateEvent(event adapters.NetworkEvent) []adapters.EventType {
	switch event.Name {
	case "onAdLoaded":
		return []adapters.EventType{adapters.EventLoaded}
	case "onAdFailedToLoad":
		return []adapters.EventType{adapters.EventFailedToLoad}
	case "onAdFailedToShow":
		return []adapters.EventType{adapters.EventFailedToShow}
	case "onAdClicked":
		if event.Format == adapters.FormatBanner {
			return []adapters.EventType{adapters.EventClicked, adapters.EventOpened}
		}
		return []adapters.EventType{adapters.EventClicked}
	case "onLeftApplication":
		return []adapters.EventType{adapters.EventLeftApplication}
	case "onReturnedToApplication":
		if event.Format == adapters.FormatBanner {
			return []adapters.EventType{adapters.EventClosed}
		}
		return nil
	case "onImpression":
		return []adapters.EventType{adapters.EventImpression}
	case "onAdShown":
		return []adapters.EventType{adapters.EventOpened}
	case "onAdDismissed":
		return []adapters.EventType{adapters.EventClosed}
	case "onRewarded":
		return []adapters.EventType{adapters.EventRewarded}
	}
	return nil
}

func init() {
	if err := adapters.RegisterAdapter(networkCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register %s adapter: %v", networkCode, err))
	}
}
