package yandex

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/openrtb"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
)

func newRequest(format adapters.Format) *adapters.AdRequest {
	return &adapters.AdRequest{
		ID:               "req-1",
		Network:          networkCode,
		Format:           format,
		ServerParameters: adapters.ServerParameters{paramBlockID: "R-M-123456-7"},
		Size:             adsize.Size{Width: 360, Height: 100},
		Screen:           adsize.Screen{WidthDP: 360, HeightDP: 740, Density: 3},
	}
}

func TestParseBlock(t *testing.T) {
	tests := []struct {
		name    string
		params  adapters.ServerParameters
		page    int64
		imp     int64
		wantErr bool
	}{
		{"mobile block", adapters.ServerParameters{paramBlockID: "R-M-123456-7"}, 123456, 7, false},
		{"short block", adapters.ServerParameters{paramBlockID: "R-123456-1"}, 123456, 1, false},
		{"bare ids", adapters.ServerParameters{paramBlockID: "123456-789"}, 123456, 789, false},
		{"json parameter", adapters.ServerParameters{paramParameter: `{"blockID":"R-I-42-3"}`}, 42, 3, false},
		{"garbage", adapters.ServerParameters{paramBlockID: "block"}, 0, 0, true},
		{"zero page", adapters.ServerParameters{paramBlockID: "R-M-0-1"}, 0, 0, true},
		{"bad json", adapters.ServerParameters{paramParameter: `{`}, 0, 0, true},
		{"missing", adapters.ServerParameters{}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := parseBlock(tt.params)
			if tt.wantErr {
				if adapters.CodeOf(err) != adapters.ErrorCodeInvalidServerParameters {
					t.Errorf("expected INVALID_SERVER_PARAMETERS, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.PageID != tt.page || b.ImpID != tt.imp {
				t.Errorf("expected %d/%d, got %d/%d", tt.page, tt.imp, b.PageID, b.ImpID)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	a := New("")
	if err := a.Initialize(context.Background(), []adapters.ServerParameters{{paramBlockID: "x"}, {paramBlockID: "R-M-1-1"}}); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if err := a.Initialize(context.Background(), []adapters.ServerParameters{{paramBlockID: "x"}}); err == nil {
		t.Error("expected error without a valid block")
	}
}

func TestInlineAdaptiveSize(t *testing.T) {
	tests := []struct {
		requested adsize.Size
		expected  adsize.Size
		wantErr   bool
	}{
		{adsize.Size{Width: 360, Height: 100}, adsize.Size{Width: 360, Height: 100}, false},
		{adsize.Size{Width: 320, Height: 60}, adsize.Size{Width: 320, Height: 50}, false},
		{adsize.Size{Width: 400, Height: 300}, adsize.Size{Width: 400, Height: 250}, false},
		{adsize.Size{Width: 320, Height: 40}, adsize.Size{}, true},
		{adsize.Size{Width: 320, Height: 200}, adsize.Size{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.requested.String(), func(t *testing.T) {
			got, err := InlineAdaptiveSize(tt.requested)
			if tt.wantErr {
				if adapters.CodeOf(err) != adapters.ErrorCodeSizeMismatch {
					t.Errorf("expected SIZE_MISMATCH, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMakeRequests_Banner(t *testing.T) {
	reqs, errs := New("").MakeRequests(newRequest(adapters.FormatBanner), nil)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !strings.HasPrefix(reqs[0].URI, defaultEndpoint+"/123456?") || !strings.Contains(reqs[0].URI, "imp-id=7") {
		t.Errorf("unexpected uri %s", reqs[0].URI)
	}

	var bidReq openrtb.BidRequest
	if err := json.Unmarshal(reqs[0].Body, &bidReq); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	banner := bidReq.Imp[0].Banner
	if banner.W != 360 || banner.H != 100 {
		t.Errorf("expected 360x100, got %dx%d", banner.W, banner.H)
	}
	if !strings.Contains(string(banner.Ext), `"max_height":100`) {
		t.Errorf("expected inline adaptive ext, got %s", banner.Ext)
	}
	if bidReq.Imp[0].TagID != "R-M-123456-7" {
		t.Errorf("expected block id as tagid, got %s", bidReq.Imp[0].TagID)
	}
}

func TestMakeRequests_EndpointOverride(t *testing.T) {
	reqs, _ := New("").MakeRequests(newRequest(adapters.FormatRewarded), &adapters.ExtraRequestInfo{Endpoint: "http://localhost:9000"})
	if !strings.HasPrefix(reqs[0].URI, "http://localhost:9000/123456?") {
		t.Errorf("unexpected uri %s", reqs[0].URI)
	}
}

func TestMakeAds_Reward(t *testing.T) {
	body := []byte(`{"id":"req-1","seatbid":[{"bid":[{"id":"b1","impid":"1","adm":"<vast/>","ext":{"reward":{"type":"coins","amount":10}}}]}]}`)

	ad, errs := New("").MakeAds(newRequest(adapters.FormatRewarded), &adapters.ResponseData{StatusCode: http.StatusOK, Body: body})
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if ad.Reward == nil || ad.Reward.Type != "coins" || ad.Reward.Amount != 10 {
		t.Errorf("unexpected reward %+v", ad.Reward)
	}

	noExt := []byte(`{"id":"req-1","seatbid":[{"bid":[{"id":"b1","impid":"1","adm":"<vast/>"}]}]}`)
	ad, _ = New("").MakeAds(newRequest(adapters.FormatRewarded), &adapters.ResponseData{StatusCode: http.StatusOK, Body: noExt})
	if ad.Reward == nil || ad.Reward.Amount != 1 {
		t.Errorf("expected default reward, got %+v", ad.Reward)
	}
}

func TestMakeAds_OversizedBanner(t *testing.T) {
	body := []byte(`{"id":"req-1","seatbid":[{"bid":[{"id":"b1","impid":"1","adm":"<div/>","w":360,"h":250}]}]}`)

	_, errs := New("").MakeAds(newRequest(adapters.FormatBanner), &adapters.ResponseData{StatusCode: http.StatusOK, Body: body})
	if len(errs) != 1 || adapters.CodeOf(errs[0]) != adapters.ErrorCodeSizeMismatch {
		t.Errorf("expected SIZE_MISMATCH, got %v", errs)
	}
}

func TestTranslateEvent(t *testing.T) {
	a := New("")

	if got := a.TranslateEvent(adapters.NetworkEvent{Name: "onAdClicked", Format: adapters.FormatBanner}); len(got) != 2 {
		t.Errorf("expected clicked and opened, got %v", got)
	}
	if got := a.TranslateEvent(adapters.NetworkEvent{Name: "onReturnedToApplication", Format: adapters.FormatInterstitial}); got != nil {
		t.Errorf("expected nil for full-screen return, got %v", got)
	}
	if got := a.TranslateEvent(adapters.NetworkEvent{Name: "onRewarded", Format: adapters.FormatRewarded}); len(got) != 1 || got[0] != adapters.EventRewarded {
		t.Errorf("expected rewarded, got %v", got)
	}
	if got := a.TranslateEvent(adapters.NetworkEvent{Name: "onAdDismissed"}); len(got) != 1 || got[0] != adapters.EventClosed {
		t.Errorf("expected closed, got %v", got)
	}
}
