package openrtb

import "encoding/json"

// BidResponse represents an OpenRTB 2.5 bid response
type BidResponse struct {
	ID      string          `json:"id"`
	SeatBid []SeatBid       `json:"seatbid,omitempty"`
	BidID   string          `json:"bidid,omitempty"`
	Cur     string          `json:"cur,omitempty"`
	NBR     int             `json:"nbr,omitempty"` // No-bid reason code
	Ext     json.RawMessage `json:"ext,omitempty"`
}

// SeatBid represents a seat bid
type SeatBid struct {
	Bid  []Bid  `json:"bid"`
	Seat string `json:"seat,omitempty"`
}

// Bid represents a bid
type Bid struct {
	ID      string          `json:"id"`
	ImpID   string          `json:"impid"`
	Price   float64         `json:"price"`
	NURL    string          `json:"nurl,omitempty"`
	BURL    string          `json:"burl,omitempty"`
	AdM     string          `json:"adm,omitempty"`
	AdID    string          `json:"adid,omitempty"`
	ADomain []string        `json:"adomain,omitempty"`
	CRID    string          `json:"crid,omitempty"`
	W       int             `json:"w,omitempty"`
	H       int             `json:"h,omitempty"`
	Exp     int             `json:"exp,omitempty"` // Seconds the bid stays valid
	Ext     json.RawMessage `json:"ext,omitempty"`
}

// FirstBid returns the first bid of the response, or nil when there is none
func (r *BidResponse) FirstBid() *Bid {
	for i := range r.SeatBid {
		if len(r.SeatBid[i].Bid) > 0 {
			return &r.SeatBid[i].Bid[0]
		}
	}
	return nil
}
