// Package native maps network native assets onto the host native ad and
// downloads their images
package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// Asset names used in requirement lists and MISSING_NATIVE_ASSETS errors
const (
	AssetHeadline     = "headline"
	AssetBody         = "body"
	AssetCallToAction = "call_to_action"
	AssetIcon         = "icon"
	AssetImage        = "image"
	AssetAdvertiser   = "advertiser"
)

// defaultRequirements applies to networks without an entry in Requirements
var defaultRequirements = []string{AssetHeadline}

// Requirements lists the assets each network must return for a native ad to be usable
var Requirements = map[string][]string{
	"facebook": {AssetHeadline, AssetBody, AssetIcon, AssetCallToAction},
	"vungle":   {AssetHeadline, AssetCallToAction},
	"nend":     {AssetHeadline, AssetImage},
	"yahoo":    {AssetHeadline, AssetImage},
	"yandex":   {AssetHeadline},
	"sample":   {AssetHeadline, AssetBody, AssetIcon, AssetImage, AssetCallToAction},
}

// Image is a native image, either as a URL or downloaded
type Image struct {
	URL      string `json:"url"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
	MIMEType string `json:"mime,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Ad is the host representation of a native ad
type Ad struct {
	Headline      string   `json:"headline"`
	Body          string   `json:"body,omitempty"`
	CallToAction  string   `json:"call_to_action,omitempty"`
	Advertiser    string   `json:"advertiser,omitempty"`
	StarRating    float64  `json:"star_rating,omitempty"`
	Price         string   `json:"price,omitempty"`
	Store         string   `json:"store,omitempty"`
	SocialContext string   `json:"social_context,omitempty"`
	AdChoicesURL  string   `json:"ad_choices_url,omitempty"`
	HasVideo      bool     `json:"has_video,omitempty"`
	Icon          *Image   `json:"icon,omitempty"`
	Images        []*Image `json:"images,omitempty"`
}

// MapperConfig holds image download settings
type MapperConfig struct {
	Timeout     time.Duration
	Concurrency int
}

// DefaultMapperConfig returns the default image download settings
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		Timeout:     config.ImageDownloadTimeout,
		Concurrency: config.ImageDownloadConcurrency,
	}
}

// Mapper turns network native assets into host native ads
type Mapper struct {
	client adapters.HTTPClient
	config MapperConfig
	group  singleflight.Group
}

// NewMapper creates a mapper downloading images with client
func NewMapper(client adapters.HTTPClient, cfg MapperConfig) *Mapper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.ImageDownloadTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.ImageDownloadConcurrency
	}
	return &Mapper{client: client, config: cfg}
}

// Missing returns the required assets absent from assets, in requirement order
func Missing(network string, assets *adapters.NativeAssets) []string {
	required, ok := Requirements[network]
	if !ok {
		required = defaultRequirements
	}

	var missing []string
	for _, name := range required {
		if !hasAsset(assets, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func hasAsset(assets *adapters.NativeAssets, name string) bool {
	if assets == nil {
		return false
	}
	switch name {
	case AssetHeadline:
		return strings.TrimSpace(assets.Headline) != ""
	case AssetBody:
		return strings.TrimSpace(assets.Body) != ""
	case AssetCallToAction:
		return strings.TrimSpace(assets.CallToAction) != ""
	case AssetIcon:
		return assets.IconURL != ""
	case AssetImage:
		// A video ad renders its media view instead of a main image
		return len(assets.ImageURLs) > 0 || assets.HasVideo
	case AssetAdvertiser:
		return assets.Advertiser != ""
	}
	return false
}

// Map validates the network's required assets and builds the host native ad.
// Images are downloaded unless opts.ReturnURLsForImages is set; any failed
// download fails the whole ad.
func (m *Mapper) Map(ctx context.Context, network string, assets *adapters.NativeAssets, opts adapters.NativeOptions) (*Ad, error) {
	if missing := Missing(network, assets); len(missing) > 0 {
		return nil, adapters.NewMissingNativeAssetsError(network, missing)
	}

	ad := &Ad{
		Headline:      assets.Headline,
		Body:          assets.Body,
		CallToAction:  assets.CallToAction,
		Advertiser:    assets.Advertiser,
		StarRating:    assets.StarRating,
		Price:         assets.Price,
		Store:         assets.Store,
		SocialContext: assets.SocialContext,
		AdChoicesURL:  assets.AdChoicesURL,
		HasVideo:      assets.HasVideo,
	}
	if assets.IconURL != "" {
		ad.Icon = &Image{URL: assets.IconURL}
	}
	for _, u := range assets.ImageURLs {
		if u != "" {
			ad.Images = append(ad.Images, &Image{URL: u})
		}
	}

	if opts.ReturnURLsForImages {
		return ad, nil
	}
	if err := m.download(ctx, network, ad); err != nil {
		return nil, err
	}
	return ad, nil
}

// download fetches every image of ad in parallel, bounded by the configured concurrency
func (m *Mapper) download(ctx context.Context, network string, ad *Ad) error {
	images := ad.Images
	if ad.Icon != nil {
		images = append([]*Image{ad.Icon}, images...)
	}
	if len(images) == 0 {
		return nil
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)
	for _, img := range images {
		g.Go(func() error {
			fetched, err := m.fetch(gctx, network, img.URL)
			if err != nil {
				return err
			}
			img.Width, img.Height = fetched.Width, fetched.Height
			img.MIMEType = fetched.MIMEType
			img.Data = fetched.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Network(network).Debug().
		Int("images", len(images)).
		Dur("duration", time.Since(start)).
		Msg("native images downloaded")
	return nil
}

// fetch downloads and decodes one image. Concurrent fetches of the same URL
// share a single download, which runs detached from any one caller and is
// bounded by the configured timeout.
func (m *Mapper) fetch(ctx context.Context, network, url string) (*Image, error) {
	ch := m.group.DoChan(url, func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.Timeout)
		defer cancel()

		resp, err := m.client.Do(dctx, &adapters.RequestData{Method: http.MethodGet, URI: url}, m.config.Timeout)
		if err != nil {
			return nil, adapters.NewImageDownloadError(network, url, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, adapters.NewImageDownloadError(network, url, fmt.Errorf("status %d", resp.StatusCode))
		}

		cfg, format, err := image.DecodeConfig(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, adapters.NewImageDownloadError(network, url, err)
		}
		return &Image{
			URL:      url,
			Width:    cfg.Width,
			Height:   cfg.Height,
			MIMEType: "image/" + format,
			Data:     resp.Body,
		}, nil
	})

	select {
	case <-ctx.Done():
		return nil, adapters.NewImageDownloadError(network, url, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Image), nil
	}
}
