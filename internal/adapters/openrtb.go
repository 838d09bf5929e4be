package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/openrtb"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
)

// No-bid reasons that carry a readable message
var noBidReasons = map[int]string{
	1:  "technical error",
	2:  "invalid request",
	3:  "known web spider",
	4:  "suspected non-human traffic",
	8:  "unsupported device",
	9:  "blocked publisher or site",
	10: "unmatched user",
}

// NewBidRequest builds the single-impression OpenRTB request shared by the
// networks that speak OpenRTB. bannerSize is only used for banners.
func NewBidRequest(req *AdRequest, tagID string, bannerSize adsize.Size) (*openrtb.BidRequest, error) {
	secure := 1
	imp := openrtb.Imp{
		ID:          "1",
		TagID:       tagID,
		Secure:      &secure,
		BidFloorCur: "USD",
	}

	switch req.Format {
	case FormatBanner:
		imp.Banner = &openrtb.Banner{
			W:      bannerSize.Width,
			H:      bannerSize.Height,
			Format: []openrtb.Format{{W: bannerSize.Width, H: bannerSize.Height}},
		}
	case FormatInterstitial:
		imp.Instl = 1
		imp.Banner = &openrtb.Banner{W: req.Screen.WidthDP, H: req.Screen.HeightDP}
		imp.Video = fullScreenVideo(req.Screen)
	case FormatRewarded:
		imp.Instl = 1
		imp.Rwdd = 1
		imp.Video = fullScreenVideo(req.Screen)
	case FormatNative:
		nativeReq, err := json.Marshal(openrtb.DefaultNativeRequest(req.Native.RequestVideo))
		if err != nil {
			return nil, NewMarshalError(req.Network, err)
		}
		imp.Native = &openrtb.Native{Request: string(nativeReq), Ver: "1.2"}
	default:
		return nil, NewUnsupportedFormatError(req.Network, req.Format)
	}

	bidReq := &openrtb.BidRequest{
		ID:  req.ID,
		Imp: []openrtb.Imp{imp},
		Cur: []string{"USD"},
	}
	if req.TestMode {
		bidReq.Test = 1
	}
	if req.App != nil {
		bidReq.App = &openrtb.App{
			Bundle: req.App.Bundle,
			Name:   req.App.Name,
			Ver:    req.App.Version,
		}
	}
	bidReq.Device = &openrtb.Device{
		W:       req.Screen.WidthDP,
		H:       req.Screen.HeightDP,
		PxRatio: req.Screen.Density,
	}
	if d := req.Device; d != nil {
		bidReq.Device.UA = d.UA
		bidReq.Device.IP = d.IP
		bidReq.Device.OS = d.OS
		bidReq.Device.OSV = d.OSVersion
		bidReq.Device.IFA = d.IFA
		bidReq.Device.Language = d.Language
		if d.LimitAdTracking {
			lmt := 1
			bidReq.Device.Lmt = &lmt
		}
	}
	if req.UserID != "" || req.BidResponse != "" {
		bidReq.User = &openrtb.User{ID: req.UserID, BuyerUID: req.BidResponse}
	}
	if req.ChildDirected {
		bidReq.Regs = &openrtb.Regs{COPPA: 1}
	}
	return bidReq, nil
}

func fullScreenVideo(screen adsize.Screen) *openrtb.Video {
	return &openrtb.Video{
		Mimes:       []string{"video/mp4"},
		MaxDuration: 60,
		Protocols:   []int{2, 3, 5, 6},
		W:           screen.WidthDP,
		H:           screen.HeightDP,
		Placement:   5, // Interstitial/slider/floating
	}
}

// PostJSON marshals body into a single POST request
func PostJSON(network, uri string, body interface{}, headers http.Header) ([]*RequestData, []error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, []error{NewMarshalError(network, err)}
	}

	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json;charset=utf-8")
	headers.Set("Accept", "application/json")

	return []*RequestData{{
		Method:  http.MethodPost,
		URI:     uri,
		Body:    data,
		Headers: headers,
	}}, nil
}

// ParseBidResponse decodes an OpenRTB response and returns its winning bid.
// 204 and empty seat bids are reported as no fill.
func ParseBidResponse(network string, resp *ResponseData) (*openrtb.BidResponse, *openrtb.Bid, error) {
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil, NewNoFillError(network, "")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, NewBadStatusError(network, resp.StatusCode)
	}

	var bidResp openrtb.BidResponse
	if err := json.Unmarshal(resp.Body, &bidResp); err != nil {
		return nil, nil, NewParseError(network, err)
	}

	bid := bidResp.FirstBid()
	if bid == nil {
		reason := noBidReasons[bidResp.NBR]
		if reason == "" && bidResp.NBR != 0 {
			reason = "nbr " + strconv.Itoa(bidResp.NBR)
		}
		return nil, nil, NewNoFillError(network, reason)
	}
	return &bidResp, bid, nil
}

// AdFromBid converts a winning bid into a loaded ad. Native bids carry the
// native response in their markup.
func AdFromBid(req *AdRequest, bid *openrtb.Bid, currency string) (*AdResponse, error) {
	ad := &AdResponse{
		Network:    req.Network,
		Format:     req.Format,
		CreativeID: bid.CRID,
		Price:      bid.Price,
		Currency:   currency,
		ExpiresIn:  bid.Exp,
	}
	if ad.Currency == "" {
		ad.Currency = "USD"
	}
	if bid.BURL != "" {
		ad.ImpressionTrackers = append(ad.ImpressionTrackers, bid.BURL)
	}

	if req.Format == FormatNative {
		assets, link, imps, err := ParseNativeMarkup(bid.AdM)
		if err != nil {
			return nil, NewParseError(req.Network, err)
		}
		ad.Native = assets
		ad.ClickURL = link.URL
		ad.ClickTrackers = link.ClickTrackers
		ad.ImpressionTrackers = append(ad.ImpressionTrackers, imps...)
		return ad, nil
	}

	if bid.AdM == "" {
		return nil, NewParseError(req.Network, fmt.Errorf("bid %s has no markup", bid.ID))
	}
	ad.Markup = bid.AdM
	if bid.W > 0 && bid.H > 0 {
		ad.Size = &adsize.Size{Width: bid.W, Height: bid.H}
	}
	return ad, nil
}

// ParseNativeMarkup decodes an OpenRTB native response into native assets,
// its click link and its impression trackers
func ParseNativeMarkup(adm string) (*NativeAssets, openrtb.NativeLink, []string, error) {
	// Some networks wrap the response in {"native": {...}}
	var wrapped struct {
		Native *openrtb.NativeResponse `json:"native"`
	}
	if err := json.Unmarshal([]byte(adm), &wrapped); err != nil {
		return nil, openrtb.NativeLink{}, nil, fmt.Errorf("invalid native markup: %w", err)
	}

	var resp openrtb.NativeResponse
	if wrapped.Native != nil {
		resp = *wrapped.Native
	} else if err := json.Unmarshal([]byte(adm), &resp); err != nil {
		return nil, openrtb.NativeLink{}, nil, fmt.Errorf("invalid native markup: %w", err)
	}

	assets := &NativeAssets{AdChoicesURL: resp.Privacy}
	for _, a := range resp.Assets {
		switch {
		case a.Title != nil:
			assets.Headline = a.Title.Text
		case a.Img != nil && a.ID == openrtb.AssetIcon:
			assets.IconURL = a.Img.URL
		case a.Img != nil:
			assets.ImageURLs = append(assets.ImageURLs, a.Img.URL)
		case a.Video != nil:
			assets.HasVideo = a.Video.VASTTag != ""
		case a.Data != nil:
			setNativeData(assets, a.ID, a.Data.Value)
		}
	}

	imps := append([]string(nil), resp.ImpTrackers...)
	for _, et := range resp.EventTrackers {
		// event 1 = impression, method 1 = image pixel
		if et.Event == 1 && et.Method == 1 && et.URL != "" {
			imps = append(imps, et.URL)
		}
	}
	return assets, resp.Link, imps, nil
}

func setNativeData(assets *NativeAssets, id int, value string) {
	switch id {
	case openrtb.AssetBody:
		assets.Body = value
	case openrtb.AssetCTA:
		assets.CallToAction = value
	case openrtb.AssetSponsored:
		assets.Advertiser = value
	case openrtb.AssetRating:
		if rating, err := strconv.ParseFloat(value, 64); err == nil {
			assets.StarRating = rating
		}
	case openrtb.AssetPrice:
		assets.Price = value
	case openrtb.AssetStore:
		assets.Store = value
	}
}
