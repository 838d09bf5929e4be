// Package adapters provides the ad network adapter framework
package adapters

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// MethodMock marks a request that is answered locally with its own body
const MethodMock = "MOCK"

// Adapter defines the interface every ad network adapter implements
type Adapter interface {
	// Initialize prepares the network with the server parameters of every
	// ad unit configured for it
	Initialize(ctx context.Context, params []ServerParameters) error

	// MakeRequests builds HTTP requests for the network
	MakeRequests(request *AdRequest, extraInfo *ExtraRequestInfo) ([]*RequestData, []error)

	// MakeAds parses the network response into a loaded ad
	MakeAds(request *AdRequest, responseData *ResponseData) (*AdResponse, []error)

	// TranslateEvent maps a network SDK callback onto host events.
	// An empty result means the callback is not forwarded.
	TranslateEvent(event NetworkEvent) []EventType
}

// PlacementExclusive is implemented by networks that allow only one
// loaded ad per placement at a time
type PlacementExclusive interface {
	PlacementKey(request *AdRequest) (string, bool)
}

// ShowNotifier is implemented by networks whose SDK raises no callback when
// a full-screen ad is presented. The mediator emits the returned events on show.
type ShowNotifier interface {
	ShowEvents(format Format) []EventType
}

// Format is an ad format
type Format string

// Ad formats
const (
	FormatBanner       Format = "banner"
	FormatInterstitial Format = "interstitial"
	FormatRewarded     Format = "rewarded"
	FormatNative       Format = "native"
)

// Valid reports whether f is a known format
func (f Format) Valid() bool {
	switch f {
	case FormatBanner, FormatInterstitial, FormatRewarded, FormatNative:
		return true
	}
	return false
}

// FullScreen reports whether the format is presented over the app
func (f Format) FullScreen() bool {
	return f == FormatInterstitial || f == FormatRewarded
}

// ServerParameters are the per ad unit credentials configured for a network
type ServerParameters map[string]string

// Get returns the first non-empty value among keys
func (p ServerParameters) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p[k]); v != "" {
			return v
		}
	}
	return ""
}

// Extras are network specific options passed by the app
type Extras map[string]string

// String returns the value for key
func (e Extras) String(key string) string {
	return e[key]
}

// Bool returns the boolean value for key, or def when absent or malformed
func (e Extras) Bool(key string, def bool) bool {
	v, ok := e[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int returns the integer value for key, or def when absent or malformed
func (e Extras) Int(key string, def int) int {
	v, ok := e[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// NativeOptions control native ad assembly
type NativeOptions struct {
	ReturnURLsForImages bool `json:"return_urls_for_images,omitempty"`
	RequestVideo        bool `json:"request_video,omitempty"`
}

// AppInfo describes the app requesting the ad
type AppInfo struct {
	Bundle  string `json:"bundle,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// DeviceInfo describes the device requesting the ad
type DeviceInfo struct {
	UA              string `json:"ua,omitempty"`
	IP              string `json:"ip,omitempty"`
	OS              string `json:"os,omitempty"`
	OSVersion       string `json:"os_version,omitempty"`
	IFA             string `json:"ifa,omitempty"`
	Language        string `json:"language,omitempty"`
	LimitAdTracking bool   `json:"lmt,omitempty"`
}

// AdRequest is a single ad load for one network
type AdRequest struct {
	ID               string           `json:"id"`
	AdUnitID         string           `json:"ad_unit_id"`
	Network          string           `json:"network"`
	Format           Format           `json:"format"`
	ServerParameters ServerParameters `json:"server_parameters,omitempty"`
	Extras           Extras           `json:"extras,omitempty"`

	// Size is the requested banner size in dp. The mediator replaces
	// sentinel dimensions with concrete ones before adapters see it.
	Size         adsize.Size   `json:"size"`
	SizeInPixels bool          `json:"size_in_pixels,omitempty"`
	Screen       adsize.Screen `json:"screen"`

	BidResponse   string        `json:"bid_response,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	TestMode      bool          `json:"test,omitempty"`
	ChildDirected bool          `json:"child_directed,omitempty"`
	App           *AppInfo      `json:"app,omitempty"`
	Device        *DeviceInfo   `json:"device,omitempty"`
	Native        NativeOptions `json:"native,omitempty"`
}

// IsBidding reports whether the request renders a bid obtained by the host
func (r *AdRequest) IsBidding() bool {
	return r.BidResponse != ""
}

// ExtraRequestInfo contains additional info for request building
type ExtraRequestInfo struct {
	Endpoint string
	Timeout  time.Duration
}

// RequestData represents an HTTP request to a network
type RequestData struct {
	Method  string
	URI     string
	Body    []byte
	Headers http.Header
}

// ResponseData represents an HTTP response from a network
type ResponseData struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Reward is the reward granted for a completed rewarded ad
type Reward struct {
	Type   string `json:"type"`
	Amount int    `json:"amount"`
}

// NativeAssets are the native ad assets as returned by the network
type NativeAssets struct {
	Headline      string   `json:"headline"`
	Body          string   `json:"body"`
	CallToAction  string   `json:"call_to_action"`
	Advertiser    string   `json:"advertiser,omitempty"`
	IconURL       string   `json:"icon_url,omitempty"`
	ImageURLs     []string `json:"image_urls,omitempty"`
	StarRating    float64  `json:"star_rating,omitempty"`
	Price         string   `json:"price,omitempty"`
	Store         string   `json:"store,omitempty"`
	SocialContext string   `json:"social_context,omitempty"`
	AdChoicesURL  string   `json:"ad_choices_url,omitempty"`
	HasVideo      bool     `json:"has_video,omitempty"`
}

// AdResponse is a loaded ad ready to be cached and shown
type AdResponse struct {
	AdID               string        `json:"ad_id"`
	Network            string        `json:"network"`
	Format             Format        `json:"format"`
	Size               *adsize.Size  `json:"size,omitempty"`
	Markup             string        `json:"markup,omitempty"`
	ClickURL           string        `json:"click_url,omitempty"`
	ImpressionTrackers []string      `json:"impression_trackers,omitempty"`
	ClickTrackers      []string      `json:"click_trackers,omitempty"`
	Native             *NativeAssets `json:"native,omitempty"`
	Reward             *Reward       `json:"reward,omitempty"`
	CreativeID         string        `json:"creative_id,omitempty"`
	Price              float64       `json:"price,omitempty"`
	Currency           string        `json:"currency,omitempty"`
	ExpiresIn          int           `json:"expires_in,omitempty"` // Seconds
}

// NetworkInfo contains network configuration
type NetworkInfo struct {
	Enabled    bool
	Formats    []Format
	Sizes      []adsize.Size // Fixed banner sizes, empty when any size is served
	Endpoint   string
	Maintainer string
}

// Supports reports whether the network serves format
func (i NetworkInfo) Supports(format Format) bool {
	for _, f := range i.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// AdapterWithInfo wraps an adapter with its info
type AdapterWithInfo struct {
	Adapter Adapter
	Info    NetworkInfo
}

// HTTPClient defines the interface for HTTP requests
type HTTPClient interface {
	Do(ctx context.Context, req *RequestData, timeout time.Duration) (*ResponseData, error)
}

// DefaultHTTPClient implements HTTPClient
type DefaultHTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a new HTTP client with connection pooling
func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSClientConfig: &tls.Config{
			ClientSessionCache: tls.NewLRUClientSessionCache(100),
			MinVersion:         tls.VersionTLS12,
		},

		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	return &DefaultHTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Do executes an HTTP request, bounded by the shorter of timeout and the
// context deadline. MOCK requests are answered with their own body.
func (c *DefaultHTTPClient) Do(ctx context.Context, req *RequestData, timeout time.Duration) (*ResponseData, error) {
	if req.Method == MethodMock {
		return &ResponseData{StatusCode: http.StatusOK, Body: req.Body, Headers: req.Headers}, nil
	}

	if timeout > 0 {
		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, nil)
	if err != nil {
		return nil, err
	}

	if len(req.Body) > 0 {
		httpReq.Body = &bodyReader{data: req.Body}
		httpReq.ContentLength = int64(len(req.Body))
	}

	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}

	resp, err := c.client.Do(httpReq) //nolint:bodyclose
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	readCh := make(chan readResult, 1)

	go func() {
		defer resp.Body.Close()
		limitedReader := io.LimitReader(resp.Body, config.MaxNetworkResponseSize+1)
		data, err := io.ReadAll(limitedReader)
		readCh <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		resp.Body.Close()
		result := <-readCh
		if result.err != nil && !errors.Is(result.err, io.EOF) {
			logger.Log.Debug().
				Err(result.err).
				Str("uri", req.URI).
				Msg("read error during context cancellation (masked by timeout)")
		}
		return nil, ctx.Err()
	case result := <-readCh:
		if result.err != nil {
			return nil, result.err
		}
		if len(result.data) > config.MaxNetworkResponseSize {
			return nil, fmt.Errorf("response too large: exceeded %d bytes", config.MaxNetworkResponseSize)
		}
		return &ResponseData{
			StatusCode: resp.StatusCode,
			Body:       result.data,
			Headers:    resp.Header,
		}, nil
	}
}

// bodyReader wraps bytes for http.Request.Body
type bodyReader struct {
	data []byte
	pos  int
}

func (r *bodyReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	if r.pos >= len(r.data) {
		return n, io.EOF
	}
	return n, nil
}

func (r *bodyReader) Close() error {
	return nil
}
