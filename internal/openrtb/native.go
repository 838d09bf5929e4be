package openrtb

import "encoding/json"

// Native asset IDs shared by the ORTB networks
const (
	AssetTitle       = 1
	AssetIcon        = 2
	AssetMainImage   = 3
	AssetBody        = 4
	AssetCTA         = 5
	AssetSponsored   = 6
	AssetRating      = 7
	AssetPrice       = 8
	AssetStore       = 9
	AssetVideo       = 10
	imageTypeIcon    = 1
	imageTypeMain    = 3
	dataTypeSponsor  = 1
	dataTypeDesc     = 2
	dataTypeRating   = 3
	dataTypePrice    = 6
	dataTypeCTAText  = 12
	dataTypeStore    = 501 // exchange-specific range
	defaultTitleLen  = 90
	defaultBodyLen   = 200
	defaultIconSize  = 50
	defaultImageMinW = 300
)

// NativeRequest is the OpenRTB Native 1.2 markup request
type NativeRequest struct {
	Ver    string          `json:"ver,omitempty"`
	Assets []NativeAsset   `json:"assets"`
	Ext    json.RawMessage `json:"ext,omitempty"`
}

// NativeAsset is a requested native asset
type NativeAsset struct {
	ID       int          `json:"id"`
	Required int          `json:"required,omitempty"`
	Title    *NativeTitle `json:"title,omitempty"`
	Img      *NativeImage `json:"img,omitempty"`
	Data     *NativeData  `json:"data,omitempty"`
	Video    *Video       `json:"video,omitempty"`
}

// NativeTitle requests a title
type NativeTitle struct {
	Len int `json:"len"`
}

// NativeImage requests an image
type NativeImage struct {
	Type int `json:"type,omitempty"`
	W    int `json:"w,omitempty"`
	H    int `json:"h,omitempty"`
	WMin int `json:"wmin,omitempty"`
	HMin int `json:"hmin,omitempty"`
}

// NativeData requests a data asset
type NativeData struct {
	Type int `json:"type"`
	Len  int `json:"len,omitempty"`
}

// DefaultNativeRequest builds the app-install style asset set every network is asked for
func DefaultNativeRequest(withVideo bool) NativeRequest {
	req := NativeRequest{
		Ver: "1.2",
		Assets: []NativeAsset{
			{ID: AssetTitle, Required: 1, Title: &NativeTitle{Len: defaultTitleLen}},
			{ID: AssetIcon, Required: 1, Img: &NativeImage{Type: imageTypeIcon, WMin: defaultIconSize, HMin: defaultIconSize}},
			{ID: AssetMainImage, Img: &NativeImage{Type: imageTypeMain, WMin: defaultImageMinW}},
			{ID: AssetBody, Required: 1, Data: &NativeData{Type: dataTypeDesc, Len: defaultBodyLen}},
			{ID: AssetCTA, Required: 1, Data: &NativeData{Type: dataTypeCTAText}},
			{ID: AssetSponsored, Data: &NativeData{Type: dataTypeSponsor}},
			{ID: AssetRating, Data: &NativeData{Type: dataTypeRating}},
			{ID: AssetPrice, Data: &NativeData{Type: dataTypePrice}},
			{ID: AssetStore, Data: &NativeData{Type: dataTypeStore}},
		},
	}
	if withVideo {
		req.Assets = append(req.Assets, NativeAsset{
			ID:    AssetVideo,
			Video: &Video{Mimes: []string{"video/mp4"}, MinDuration: 1, MaxDuration: 60, Protocols: []int{2, 3, 5, 6}},
		})
	}
	return req
}

// NativeResponse is the OpenRTB Native 1.2 markup response carried in Bid.AdM
type NativeResponse struct {
	Ver           string               `json:"ver,omitempty"`
	Assets        []NativeAssetResp    `json:"assets"`
	Link          NativeLink           `json:"link"`
	ImpTrackers   []string             `json:"imptrackers,omitempty"`
	EventTrackers []NativeEventTracker `json:"eventtrackers,omitempty"`
	Privacy       string               `json:"privacy,omitempty"`
}

// NativeAssetResp is a returned native asset
type NativeAssetResp struct {
	ID    int              `json:"id"`
	Title *NativeTitleResp `json:"title,omitempty"`
	Img   *NativeImageResp `json:"img,omitempty"`
	Data  *NativeDataResp  `json:"data,omitempty"`
	Video *NativeVideoResp `json:"video,omitempty"`
}

// NativeTitleResp is a returned title
type NativeTitleResp struct {
	Text string `json:"text"`
}

// NativeImageResp is a returned image
type NativeImageResp struct {
	URL string `json:"url"`
	W   int    `json:"w,omitempty"`
	H   int    `json:"h,omitempty"`
}

// NativeDataResp is a returned data asset
type NativeDataResp struct {
	Value string `json:"value"`
}

// NativeVideoResp is a returned video asset
type NativeVideoResp struct {
	VASTTag string `json:"vasttag"`
}

// NativeLink is the click destination
type NativeLink struct {
	URL           string   `json:"url"`
	ClickTrackers []string `json:"clicktrackers,omitempty"`
}

// NativeEventTracker is an event tracker (event 1 = impression)
type NativeEventTracker struct {
	Event  int    `json:"event"`
	Method int    `json:"method"`
	URL    string `json:"url,omitempty"`
}
