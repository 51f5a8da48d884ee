package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/payers"
)

// ClaimPayload is the wire form of a claim handed to a payer.
type ClaimPayload struct {
	ClaimID     uuid.UUID         `json:"claim_id"`
	PatientID   uuid.UUID         `json:"patient_id"`
	ProviderID  uuid.UUID         `json:"provider_id"`
	PayerID     uuid.UUID         `json:"payer_id"`
	ClaimType   string            `json:"claim_type"`
	TotalAmount float64           `json:"total_amount"`
	LineItems   []LineItemPayload `json:"line_items"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

type LineItemPayload struct {
	Sequence    int     `json:"sequence"`
	ServiceCode string  `json:"service_code"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// SubmitResult is the payer's response to a submission. Acknowledged means
// the payer confirmed receipt inline rather than just accepting transport.
type SubmitResult struct {
	ExternalRef  string
	Acknowledged bool
	RawResponse  string
}

// Disposition is the payer's answer to a status poll.
type Disposition string

const (
	DispositionPending      Disposition = "pending"
	DispositionAcknowledged Disposition = "acknowledged"
	DispositionCompleted    Disposition = "completed"
	DispositionRejected     Disposition = "rejected"
)

type StatusResult struct {
	Disposition Disposition
	RawResponse string
}

// PayerAdapter is the transport boundary to one payer connection. Submit
// errors are treated as retryable by the gateway; only an explicit rejected
// disposition is a business outcome.
type PayerAdapter interface {
	Submit(ctx context.Context, conn *payers.Connection, payload *ClaimPayload) (*SubmitResult, error)
	CheckStatus(ctx context.Context, conn *payers.Connection, externalRef string) (*StatusResult, error)
}

// HTTPAdapter speaks JSON over HTTP to payer endpoints: POST {endpoint}/claims
// to submit, GET {endpoint}/claims/{ref}/status to poll.
type HTTPAdapter struct {
	client *http.Client
}

func NewHTTPAdapter(client *http.Client) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAdapter{client: client}
}

type submitResponse struct {
	ExternalRef string `json:"external_ref"`
	Status      string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (a *HTTPAdapter) Submit(ctx context.Context, conn *payers.Connection, payload *ClaimPayload) (*SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		conn.Endpoint+"/claims", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := a.authorize(req, conn); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payer returned %d: %s", resp.StatusCode, string(raw))
	}
	var sr submitResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode payer response: %w", err)
	}
	if sr.ExternalRef == "" {
		return nil, fmt.Errorf("payer response missing external_ref")
	}
	return &SubmitResult{
		ExternalRef:  sr.ExternalRef,
		Acknowledged: sr.Status == "acknowledged",
		RawResponse:  string(raw),
	}, nil
}

func (a *HTTPAdapter) CheckStatus(ctx context.Context, conn *payers.Connection, externalRef string) (*StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		conn.Endpoint+"/claims/"+externalRef+"/status", nil)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(req, conn); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payer returned %d: %s", resp.StatusCode, string(raw))
	}
	var sr statusResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode payer response: %w", err)
	}
	var disp Disposition
	switch sr.Status {
	case "completed", "paid":
		disp = DispositionCompleted
	case "rejected", "denied":
		disp = DispositionRejected
	case "acknowledged", "accepted":
		disp = DispositionAcknowledged
	default:
		disp = DispositionPending
	}
	return &StatusResult{Disposition: disp, RawResponse: string(raw)}, nil
}

func (a *HTTPAdapter) authorize(req *http.Request, conn *payers.Connection) error {
	switch conn.AuthMethod {
	case payers.AuthBearer:
		if conn.Credentials != nil {
			req.Header.Set("Authorization", "Bearer "+*conn.Credentials)
		}
	case payers.AuthJWT:
		if conn.Credentials == nil {
			return fmt.Errorf("connection %s has auth_method jwt but no signing key", conn.ID)
		}
		token, err := a.mintToken(conn)
		if err != nil {
			return fmt.Errorf("mint payer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// mintToken signs a short-lived HS256 token with the connection's shared key.
func (a *HTTPAdapter) mintToken(conn *payers.Connection) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "clearway",
		"sub": conn.PayerID.String(),
		"aud": conn.Endpoint,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.New().String(),
	})
	return token.SignedString([]byte(*conn.Credentials))
}
