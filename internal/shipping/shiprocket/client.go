// Package shiprocket is a client for the Shiprocket logistics API. The
// provider has no official Go SDK, so the HTTP plumbing lives here:
// token caching, request signing, and mapping of provider payloads.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Provider tokens last about 24h; re-authenticate a little early rather
// than risk an expired token mid-request.
const tokenTTL = 23 * time.Hour

var ErrNoCourierAvailable = errors.New("shiprocket: no courier serves this route")

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shiprocket: api error %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL  string
	Email    string
	Password string
}

type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		email:    cfg.Email,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// bearerToken returns the cached token, logging in again when the cache
// is empty or past its soft expiry. The mutex also serializes concurrent
// re-auth attempts so only one login hits the provider.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("shiprocket: failed to marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("shiprocket: failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shiprocket: login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", readAPIError(resp)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("shiprocket: failed to decode login response: %w", err)
	}
	if loginResp.Token == "" {
		return "", fmt.Errorf("shiprocket: login response carried no token")
	}

	c.token = loginResp.Token
	c.tokenExpiry = time.Now().Add(tokenTTL)
	log.Info().Time("expires_at", c.tokenExpiry).Msg("Shiprocket token refreshed")

	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("shiprocket: failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("shiprocket: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shiprocket: request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shiprocket: failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiMsg struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &apiMsg)
	if apiMsg.Message == "" {
		apiMsg.Message = string(raw)
	}

	return &APIError{Status: resp.StatusCode, Message: apiMsg.Message}
}

// OrderItem is one line of a remote order.
type OrderItem struct {
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Units    int     `json:"units"`
	Selling  float64 `json:"selling_price"`
	Discount float64 `json:"discount,omitempty"`
}

// OrderRequest maps an internal order onto the provider's adhoc order
// schema.
type OrderRequest struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	PickupLocation    string      `json:"pickup_location"`
	BillingName       string      `json:"billing_customer_name"`
	BillingAddress    string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingState      string      `json:"billing_state"`
	BillingPincode    string      `json:"billing_pincode"`
	BillingCountry    string      `json:"billing_country"`
	BillingEmail      string      `json:"billing_email"`
	BillingPhone      string      `json:"billing_phone"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	Items             []OrderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          float64     `json:"sub_total"`
	LengthCm          float64     `json:"length"`
	WidthCm           float64     `json:"breadth"`
	HeightCm          float64     `json:"height"`
	WeightKg          float64     `json:"weight"`
	// PickupPincode is the warehouse pincode, needed for the
	// serviceability lookup but not part of the order payload.
	PickupPincode string `json:"-"`
}

// CreateOrderResult is the outcome of remote order creation. AWB
// assignment is best-effort: when it fails, OrderID/ShipmentID are still
// valid and AWBErr carries the reason so the caller can retry later.
type CreateOrderResult struct {
	OrderID     string
	ShipmentID  string
	AWBCode     string
	CourierID   int
	CourierName string
	AWBErr      error
}

// CreateOrder registers the order with the provider. If the provider
// does not assign an AWB on creation, the client picks a serviceable
// courier for the route and requests one.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*CreateOrderResult, error) {
	var resp struct {
		OrderID     json.Number `json:"order_id"`
		ShipmentID  json.Number `json:"shipment_id"`
		AWBCode     string      `json:"awb_code"`
		CourierID   json.Number `json:"courier_company_id"`
		CourierName string      `json:"courier_name"`
	}

	if err := c.do(ctx, http.MethodPost, "/orders/create/adhoc", req, &resp); err != nil {
		return nil, err
	}

	result := &CreateOrderResult{
		OrderID:     resp.OrderID.String(),
		ShipmentID:  resp.ShipmentID.String(),
		AWBCode:     resp.AWBCode,
		CourierName: resp.CourierName,
	}
	if id, err := resp.CourierID.Int64(); err == nil {
		result.CourierID = int(id)
	}

	if result.OrderID == "" || result.OrderID == "0" {
		return nil, fmt.Errorf("shiprocket: order create response carried no order_id")
	}

	if result.AWBCode != "" {
		return result, nil
	}

	courierID, courierName, err := c.recommendCourier(ctx, req.PickupPincode, req.BillingPincode, req.WeightKg)
	if err != nil {
		result.AWBErr = err
		return result, nil
	}

	awb, err := c.AssignAWB(ctx, result.ShipmentID, courierID)
	if err != nil {
		result.AWBErr = err
		return result, nil
	}

	result.AWBCode = awb
	result.CourierID = courierID
	result.CourierName = courierName
	return result, nil
}

// CourierRate is one serviceable courier option for a route.
type CourierRate struct {
	CourierID   int     `json:"courier_company_id"`
	CourierName string  `json:"courier_name"`
	Rate        float64 `json:"rate"`
	ETDDays     string  `json:"etd"`
	Recommended bool    `json:"recommended"`
}

type serviceabilityResponse struct {
	Data struct {
		RecommendedCourierID int `json:"recommended_courier_company_id"`
		AvailableCouriers    []struct {
			CourierID   int     `json:"courier_company_id"`
			CourierName string  `json:"courier_name"`
			Rate        float64 `json:"rate"`
			ETD         string  `json:"etd"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

// Rates lists serviceable couriers with prices for a route.
func (c *Client) Rates(ctx context.Context, pickupPincode, deliveryPincode string, weightKg float64, cod bool) ([]CourierRate, error) {
	var resp serviceabilityResponse
	if err := c.do(ctx, http.MethodGet, serviceabilityPath(pickupPincode, deliveryPincode, weightKg, cod), nil, &resp); err != nil {
		return nil, err
	}

	rates := make([]CourierRate, 0, len(resp.Data.AvailableCouriers))
	for _, ac := range resp.Data.AvailableCouriers {
		rates = append(rates, CourierRate{
			CourierID:   ac.CourierID,
			CourierName: ac.CourierName,
			Rate:        ac.Rate,
			ETDDays:     ac.ETD,
			Recommended: ac.CourierID == resp.Data.RecommendedCourierID,
		})
	}
	return rates, nil
}

func (c *Client) recommendCourier(ctx context.Context, pickupPincode, deliveryPincode string, weightKg float64) (int, string, error) {
	var resp serviceabilityResponse
	if err := c.do(ctx, http.MethodGet, serviceabilityPath(pickupPincode, deliveryPincode, weightKg, false), nil, &resp); err != nil {
		return 0, "", err
	}

	if len(resp.Data.AvailableCouriers) == 0 {
		return 0, "", ErrNoCourierAvailable
	}

	// Prefer the provider's recommendation, fall back to the first
	// serviceable courier.
	for _, ac := range resp.Data.AvailableCouriers {
		if ac.CourierID == resp.Data.RecommendedCourierID {
			return ac.CourierID, ac.CourierName, nil
		}
	}
	first := resp.Data.AvailableCouriers[0]
	return first.CourierID, first.CourierName, nil
}

func serviceabilityPath(pickup, delivery string, weightKg float64, cod bool) string {
	q := url.Values{}
	q.Set("pickup_postcode", pickup)
	q.Set("delivery_postcode", delivery)
	q.Set("weight", strconv.FormatFloat(weightKg, 'f', 2, 64))
	codFlag := "0"
	if cod {
		codFlag = "1"
	}
	q.Set("cod", codFlag)
	return "/courier/serviceability/?" + q.Encode()
}

// AssignAWB requests an air waybill for a shipment from the given
// courier.
func (c *Client) AssignAWB(ctx context.Context, shipmentID string, courierID int) (string, error) {
	payload := map[string]interface{}{
		"shipment_id": shipmentID,
		"courier_id":  courierID,
	}

	var resp struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode string `json:"awb_code"`
			} `json:"data"`
		} `json:"response"`
	}

	if err := c.do(ctx, http.MethodPost, "/courier/assign/awb", payload, &resp); err != nil {
		return "", err
	}
	if resp.Response.Data.AWBCode == "" {
		return "", fmt.Errorf("shiprocket: awb assignment returned no awb code (status %d)", resp.AWBAssignStatus)
	}

	return resp.Response.Data.AWBCode, nil
}

// RetryAWB re-runs courier selection and AWB assignment for a shipment
// whose initial assignment failed.
func (c *Client) RetryAWB(ctx context.Context, shipmentID, pickupPincode, deliveryPincode string, weightKg float64) (awb string, courierID int, courierName string, err error) {
	courierID, courierName, err = c.recommendCourier(ctx, pickupPincode, deliveryPincode, weightKg)
	if err != nil {
		return "", 0, "", err
	}

	awb, err = c.AssignAWB(ctx, shipmentID, courierID)
	if err != nil {
		return "", 0, "", err
	}
	return awb, courierID, courierName, nil
}

// TrackingActivity is one scan event reported by the courier.
type TrackingActivity struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

type TrackingResult struct {
	AWBCode       string             `json:"awb_code"`
	CurrentStatus string             `json:"current_status"`
	CourierName   string             `json:"courier_name"`
	ETD           string             `json:"etd"`
	Activities    []TrackingActivity `json:"activities"`
}

// TrackByAWB fetches the current tracking state for an AWB.
func (c *Client) TrackByAWB(ctx context.Context, awb string) (*TrackingResult, error) {
	var resp struct {
		TrackingData struct {
			ShipmentTrack []struct {
				AWBCode       string `json:"awb_code"`
				CurrentStatus string `json:"current_status"`
				CourierName   string `json:"courier_name"`
				ETD           string `json:"etd"`
			} `json:"shipment_track"`
			ShipmentTrackActivities []TrackingActivity `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}

	if err := c.do(ctx, http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil, &resp); err != nil {
		return nil, err
	}

	result := &TrackingResult{
		AWBCode:    awb,
		Activities: resp.TrackingData.ShipmentTrackActivities,
	}
	if len(resp.TrackingData.ShipmentTrack) > 0 {
		st := resp.TrackingData.ShipmentTrack[0]
		result.CurrentStatus = st.CurrentStatus
		result.CourierName = st.CourierName
		result.ETD = st.ETD
	}
	return result, nil
}

// CancelShipments cancels shipments at the provider by AWB.
func (c *Client) CancelShipments(ctx context.Context, awbs []string) error {
	payload := map[string]interface{}{"awbs": awbs}
	return c.do(ctx, http.MethodPost, "/orders/cancel/shipment/awbs", payload, nil)
}

// RequestPickup asks the courier to pick the shipment up, moving it from
// "ready to ship" into the physical network.
func (c *Client) RequestPickup(ctx context.Context, shipmentID string) error {
	payload := map[string]interface{}{"shipment_id": []string{shipmentID}}
	return c.do(ctx, http.MethodPost, "/courier/generate/pickup", payload, nil)
}

type PickupLocation struct {
	ID      int    `json:"id"`
	Name    string `json:"pickup_location"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pin_code"`
	Phone   string `json:"phone"`
	Primary bool   `json:"is_primary_location"`
}

// PickupLocations lists the configured pickup addresses.
func (c *Client) PickupLocations(ctx context.Context) ([]PickupLocation, error) {
	var resp struct {
		Data struct {
			ShippingAddress []PickupLocation `json:"shipping_address"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/settings/company/pickup", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.ShippingAddress, nil
}

type NewPickupLocation struct {
	Name    string `json:"pickup_location"`
	Contact string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	Pincode string `json:"pin_code"`
}

// AddPickupLocation registers a new pickup address with the provider.
func (c *Client) AddPickupLocation(ctx context.Context, loc NewPickupLocation) error {
	return c.do(ctx, http.MethodPost, "/settings/company/addpickup", loc, nil)
}
