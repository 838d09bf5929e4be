// Package yahoo implements the Yahoo Mobile SDK adapter over the Yahoo SSP
// OpenRTB endpoint
package yahoo

import (
	"context"
	"fmt"
	"net/http"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/openrtb"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	networkCode     = "yahoo"
	defaultEndpoint = "https://c2shb.ssp.yahoo.com/bidRequest"

	// Current keys first, legacy Verizon Media keys as fallback
	paramSiteID       = "site_id"
	paramSiteIDOld    = "dcn"
	paramPlacement    = "placement_id"
	paramPlacementOld = "position"
)

var bannerSizes = []adsize.Size{adsize.Banner, adsize.MRec, adsize.Leaderboard}

// Adapter implements the Yahoo adapter
type Adapter struct{}

// New creates a new Yahoo adapter
func New(_ string) *Adapter {
	return &Adapter{}
}

// Info returns Yahoo information
func Info() adapters.NetworkInfo {
	return adapters.NetworkInfo{
		Enabled:    true,
		Formats:    []adapters.Format{adapters.FormatBanner, adapters.FormatInterstitial, adapters.FormatRewarded, adapters.FormatNative},
		Sizes:      bannerSizes,
		Endpoint:   defaultEndpoint,
		Maintainer: "dsp-supply-prebid@verizonmedia.com",
	}
}

// Initialize requires a site ID on every ad unit
func (a *Adapter) Initialize(ctx context.Context, params []adapters.ServerParameters) error {
	sites := make(map[string]bool)
	for _, p := range params {
		if id := p.Get(paramSiteID, paramSiteIDOld); id != "" {
			sites[id] = true
		}
	}
	if len(sites) == 0 {
		return adapters.NewInvalidServerParametersError(networkCode, paramSiteID)
	}
	logger.FromContext(ctx).Debug().Int("sites", len(sites)).Msg("yahoo initialized")
	return nil
}

// MakeRequests builds the OpenRTB request
func (a *Adapter) MakeRequests(request *adapters.AdRequest, extraInfo *adapters.ExtraRequestInfo) ([]*adapters.RequestData, []error) {
	siteID := request.ServerParameters.Get(paramSiteID, paramSiteIDOld)
	placementID := request.ServerParameters.Get(paramPlacement, paramPlacementOld)
	if siteID == "" || placementID == "" {
		return nil, []error{adapters.NewInvalidServerParametersError(networkCode, paramSiteID, paramPlacement)}
	}

	var bannerSize adsize.Size
	if request.Format == adapters.FormatBanner {
		var err error
		if bannerSize, err = adapters.MatchSize(networkCode, request.Size, bannerSizes); err != nil {
			return nil, []error{err}
		}
	}

	bidReq, err := adapters.NewBidRequest(request, placementID, bannerSize)
	if err != nil {
		return nil, []error{err}
	}
	if bidReq.App == nil {
		bidReq.App = &openrtb.App{}
	}
	bidReq.App.ID = siteID

	uri := defaultEndpoint
	if extraInfo != nil && extraInfo.Endpoint != "" {
		uri = extraInfo.Endpoint
	}

	headers := http.Header{}
	headers.Set("x-openrtb-version", "2.5")
	return adapters.PostJSON(networkCode, uri, bidReq, headers)
}

// MakeAds parses the OpenRTB response
func (a *Adapter) MakeAds(request *adapters.AdRequest, responseData *adapters.ResponseData) (*adapters.AdResponse, []error) {
	bidResp, bid, err := adapters.ParseBidResponse(networkCode, responseData)
	if err != nil {
		return nil, []error{err}
	}

	ad, err := adapters.AdFromBid(request, bid, bidResp.Cur)
	if err != nil {
		return nil, []error{err}
	}

	if request.Format == adapters.FormatBanner && ad.Size != nil && !adsize.Contains(bannerSizes, *ad.Size) {
		return nil, []error{adapters.NewSizeMismatchError(networkCode, *ad.Size, bannerSizes)}
	}
	if request.Format == adapters.FormatRewarded {
		ad.Reward = &adapters.Reward{Amount: 1}
	}
	return ad, nil
}

// TranslateEvent maps Yahoo Mobile SDK listener callbacks onto host events
func (a *Adapter) TranslateEvent(event adapters.NetworkEvent) []adapters.EventType {
	switch event.Name {
	case "onLoaded":
		return []adapters.EventType{adapters.EventLoaded}
	case "onLoadFailed":
		return []adapters.EventType{adapters.EventFailedToLoad}
	case "onError":
		return []adapters.EventType{adapters.EventFailedToShow}
	case "onShown", "onExpanded":
		return []adapters.EventType{adapters.EventOpened}
	case "onClosed", "onCollapsed":
		return []adapters.EventType{adapters.EventClosed}
	case "onClicked":
		return []adapters.EventType{adapters.EventClicked}
	case "onAdLeftApplication":
		return []adapters.EventType{adapters.EventLeftApplication}
	case "onImpression":
		return []adapters.EventType{adapters.EventImpression}
	case "onVideoComplete":
		if event.Format == adapters.FormatRewarded {
			return []adapters.EventType{adapters.EventVideoCompleted, adapters.EventRewarded}
		}
		return []adapters.EventType{adapters.EventVideoCompleted}
	}
	return nil
}

func init() {
	if err := adapters.RegisterAdapter(networkCode, New(""), Info()); err != nil {
		panic(fmt.Sprintf("failed to register %s adapter: %v", networkCode, err))
	}
}
