// Package openrtb provides the OpenRTB 2.5 subset spoken by the ORTB-based ad networks
package openrtb

import "encoding/json"

// BidRequest represents an OpenRTB 2.5 bid request
type BidRequest struct {
	ID     string          `json:"id"`
	Imp    []Imp           `json:"imp"`
	App    *App            `json:"app,omitempty"`
	Device *Device         `json:"device,omitempty"`
	User   *User           `json:"user,omitempty"`
	Test   int             `json:"test,omitempty"`
	TMax   int             `json:"tmax,omitempty"` // Max time in ms for the response
	Cur    []string        `json:"cur,omitempty"`
	Regs   *Regs           `json:"regs,omitempty"`
	Ext    json.RawMessage `json:"ext,omitempty"`
}

// Imp represents an impression object
type Imp struct {
	ID          string          `json:"id"`
	Banner      *Banner         `json:"banner,omitempty"`
	Video       *Video          `json:"video,omitempty"`
	Native      *Native         `json:"native,omitempty"`
	Instl       int             `json:"instl,omitempty"` // Interstitial flag
	TagID       string          `json:"tagid,omitempty"`
	BidFloor    float64         `json:"bidfloor,omitempty"`
	BidFloorCur string          `json:"bidfloorcur,omitempty"`
	Secure      *int            `json:"secure,omitempty"`
	Rwdd        int             `json:"rwdd,omitempty"` // Rewarded flag (OpenRTB 2.6)
	Ext         json.RawMessage `json:"ext,omitempty"`
}

// Banner represents a banner impression
type Banner struct {
	Format []Format        `json:"format,omitempty"`
	W      int             `json:"w,omitempty"`
	H      int             `json:"h,omitempty"`
	Pos    int             `json:"pos,omitempty"`
	API    []int           `json:"api,omitempty"`
	Ext    json.RawMessage `json:"ext,omitempty"`
}

// Format represents an allowed banner size
type Format struct {
	W int `json:"w,omitempty"`
	H int `json:"h,omitempty"`
}

// Video represents a video impression
type Video struct {
	Mimes       []string `json:"mimes,omitempty"`
	MinDuration int      `json:"minduration,omitempty"`
	MaxDuration int      `json:"maxduration,omitempty"`
	Protocols   []int    `json:"protocols,omitempty"`
	W           int      `json:"w,omitempty"`
	H           int      `json:"h,omitempty"`
	Placement   int      `json:"placement,omitempty"`
	Skip        *int     `json:"skip,omitempty"`
}

// Native represents a native impression; Request carries the native markup request JSON
type Native struct {
	Request string `json:"request"`
	Ver     string `json:"ver,omitempty"`
}

// App represents the publisher app
type App struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Bundle    string     `json:"bundle,omitempty"`
	StoreURL  string     `json:"storeurl,omitempty"`
	Ver       string     `json:"ver,omitempty"`
	Publisher *Publisher `json:"publisher,omitempty"`
}

// Publisher represents the publisher
type Publisher struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Device represents the device
type Device struct {
	UA       string  `json:"ua,omitempty"`
	IP       string  `json:"ip,omitempty"`
	OS       string  `json:"os,omitempty"`
	OSV      string  `json:"osv,omitempty"`
	W        int     `json:"w,omitempty"`
	H        int     `json:"h,omitempty"`
	PxRatio  float64 `json:"pxratio,omitempty"`
	IFA      string  `json:"ifa,omitempty"`
	Lmt      *int    `json:"lmt,omitempty"`
	Language string  `json:"language,omitempty"`
}

// User represents the user
type User struct {
	ID       string `json:"id,omitempty"`
	BuyerUID string `json:"buyeruid,omitempty"`
	Consent  string `json:"consent,omitempty"`
}

// Regs represents regulatory signals
type Regs struct {
	COPPA int             `json:"coppa,omitempty"`
	Ext   json.RawMessage `json:"ext,omitempty"`
}
