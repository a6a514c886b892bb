// Package client is the bidder-side view of the API: typed calls, live row
// sets patched from the change stream, and adapters that keep those sets in
// step with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/bidstate"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

// APIError is a non-2xx response.
type APIError struct {
	Status         int              `json:"-"`
	Code           string           `json:"code"`
	Message        string           `json:"error"`
	NextValidValue *decimal.Decimal `json:"next_valid_value,omitempty"`
	RetryAt        *time.Time       `json:"retry_at,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// API calls the auction server on behalf of one signed-in user.
type API struct {
	BaseURL string
	Token   string
	UserID  uint64

	// HTTP serves ordinary requests; Stream serves the long-lived SSE
	// connections and must not carry a client timeout.
	HTTP   *http.Client
	Stream *http.Client
}

// NewAPI returns an API for baseURL with a 10s request timeout.
func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Stream:  &http.Client{},
	}
}

// Login exchanges credentials for an access token and remembers it.
func (a *API) Login(ctx context.Context, email, password string) error {
	var resp struct {
		User struct {
			ID uint64 `json:"id"`
		} `json:"user"`
		Access struct {
			Token string `json:"token"`
		} `json:"access"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/v1/auth/login", body, &resp); err != nil {
		return err
	}
	a.Token, a.UserID = resp.Access.Token, resp.User.ID
	return nil
}

// Auction fetches one auction.
func (a *API) Auction(ctx context.Context, id uint64) (model.Auction, error) {
	var out model.Auction
	err := a.do(ctx, http.MethodGet, "/v1/auctions/"+itoa(id), nil, &out)
	return out, err
}

// Lots fetches an auction's lots in order.
func (a *API) Lots(ctx context.Context, auctionID uint64) ([]model.Lot, error) {
	var out struct {
		Items []model.Lot `json:"items"`
	}
	err := a.do(ctx, http.MethodGet, "/v1/auctions/"+itoa(auctionID)+"/lots", nil, &out)
	return out.Items, err
}

// Bids fetches every bid of an auction; other bidders' rows carry user_id 0.
func (a *API) Bids(ctx context.Context, auctionID uint64) ([]model.Bid, error) {
	var out struct {
		Items []model.Bid `json:"items"`
	}
	err := a.do(ctx, http.MethodGet, "/v1/auctions/"+itoa(auctionID)+"/bids", nil, &out)
	return out.Items, err
}

// PlaceBid submits a bid. lotID may be zero in live mode.
func (a *API) PlaceBid(ctx context.Context, auctionID, lotID uint64, value decimal.Decimal) (model.Bid, error) {
	var out model.Bid
	body := map[string]any{"lot_id": lotID, "value": value}
	err := a.do(ctx, http.MethodPost, "/v1/auctions/"+itoa(auctionID)+"/bids", body, &out)
	return out, err
}

// Registration fetches the caller's registration. It returns nil without
// error when none exists.
func (a *API) Registration(ctx context.Context, auctionID uint64) (*model.Registration, error) {
	var out model.Registration
	err := a.do(ctx, http.MethodGet, "/v1/auctions/"+itoa(auctionID)+"/registration", nil, &out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestRegistration asks to bid in an auction.
func (a *API) RequestRegistration(ctx context.Context, auctionID uint64, notes string) (model.Registration, error) {
	var out model.Registration
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	err := a.do(ctx, http.MethodPost, "/v1/auctions/"+itoa(auctionID)+"/registration", body, &out)
	return out, err
}

// CancelRegistration withdraws the caller's registration.
func (a *API) CancelRegistration(ctx context.Context, auctionID uint64) (model.Registration, error) {
	var out model.Registration
	err := a.do(ctx, http.MethodDelete, "/v1/auctions/"+itoa(auctionID)+"/registration", nil, &out)
	return out, err
}

// State fetches the server-derived bidding view.
func (a *API) State(ctx context.Context, auctionID, lotID uint64) (bidstate.View, error) {
	var out bidstate.View
	path := "/v1/auctions/" + itoa(auctionID) + "/state"
	if lotID != 0 {
		path += "?lot_id=" + itoa(lotID)
	}
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Subscribe opens the SSE stream at path and calls fn for every event until
// the stream ends, ctx is done, or fn fails. onOpen runs once the server
// accepted the stream.
func (a *API) Subscribe(ctx context.Context, path string, onOpen func(), fn func(realtime.ChangeEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	resp, err := a.Stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if onOpen != nil {
		onOpen()
	}
	return realtime.ReadSSE(resp.Body, fn)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		bs, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	ae := &APIError{Status: resp.StatusCode}
	bs, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(bs, ae); err != nil || ae.Message == "" {
		ae.Message = strings.TrimSpace(string(bs))
		if ae.Message == "" {
			ae.Message = http.StatusText(resp.StatusCode)
		}
	}
	return ae
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }
