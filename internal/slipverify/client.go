// Package slipverify is the HTTP client for the external slip-verification
// oracle. The oracle decodes the slip QR from the image and attests the
// transfer facts.
package slipverify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/wallet"
)

const defaultTimeout = 15 * time.Second

// Oracle result codes. 2000xx family is success; 2004xx/2005xx are business
// rejections with a known reason.
const (
	codeOK            = "200000"
	codeOKCached      = "200001"
	codeOKQuota       = "200200"
	codeWrongReceiver = "200401"
	codeWrongAmount   = "200402"
	codeWrongDate     = "200403"
	codeSlipNotFound  = "200404"
	codeFakeSlip      = "200500"
	codeDuplicateSlip = "200501"
)

var rejectionReasons = map[string]string{
	codeWrongReceiver: "transfer receiver does not match",
	codeWrongAmount:   "transfer amount does not match",
	codeWrongDate:     "transfer date does not match",
	codeSlipNotFound:  "transfer not found at the bank",
	codeFakeSlip:      "slip appears forged",
	codeDuplicateSlip: "slip already used",
}

// ErrOracleUnavailable wraps transport and server-side failures, as opposed
// to business rejections.
var ErrOracleUnavailable = errors.New("slip oracle unavailable")

// Client implements slip.Verifier against the oracle's image endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) { client.httpClient = httpClient }
}

// NewClient returns a Client for the oracle at endpoint.
func NewClient(endpoint string, apiKey string, options ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("oracle endpoint is required")
	}
	if apiKey == "" {
		return nil, errors.New("oracle api key is required")
	}
	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

type oracleResponse struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
	Data    oracleData  `json:"data"`
}

type oracleData struct {
	TransRef      string      `json:"transRef"`
	TransDate     string      `json:"transDate"`
	TransTime     string      `json:"transTime"`
	TransTimeUnix int64       `json:"transTimestamp"`
	Amount        json.Number `json:"amount"`
	Sender        oracleParty `json:"sender"`
	Receiver      oracleParty `json:"receiver"`
	SendingBank   string      `json:"sendingBank"`
	ReceivingBank string      `json:"receivingBank"`
}

type oracleParty struct {
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
}

// VerifyImage posts the slip image to the oracle and maps the result. Business
// rejections come back as slip.VerificationError; transport and 5xx failures
// wrap ErrOracleUnavailable.
func (client *Client) VerifyImage(ctx context.Context, image []byte) (slip.Verified, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "slip.jpg")
	if err != nil {
		return slip.Verified{}, err
	}
	if _, err := part.Write(image); err != nil {
		return slip.Verified{}, err
	}
	if err := writer.Close(); err != nil {
		return slip.Verified{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint, &body)
	if err != nil {
		return slip.Verified{}, err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+client.apiKey)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return slip.Verified{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer func() { _ = response.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return slip.Verified{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if response.StatusCode >= 500 {
		return slip.Verified{}, fmt.Errorf("%w: status %d", ErrOracleUnavailable, response.StatusCode)
	}

	var decoded oracleResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return slip.Verified{}, fmt.Errorf("%w: undecodable response: %v", ErrOracleUnavailable, err)
	}

	code := decoded.Code.String()
	switch code {
	case codeOK, codeOKCached, codeOKQuota:
		return mapVerified(decoded, raw)
	}
	if reason, known := rejectionReasons[code]; known {
		return slip.Verified{}, slip.VerificationError{
			Code:     code,
			Reason:   reason,
			TransRef: decoded.Data.TransRef,
			Facts:    identifiedFacts(decoded, raw),
		}
	}
	return slip.Verified{}, slip.VerificationError{
		Code:   code,
		Reason: decoded.Message,
	}
}

func mapVerified(decoded oracleResponse, raw []byte) (slip.Verified, error) {
	amountBaht, err := decoded.Data.Amount.Float64()
	if err != nil {
		return slip.Verified{}, fmt.Errorf("%w: bad amount %q", ErrOracleUnavailable, decoded.Data.Amount)
	}
	transAt := decoded.Data.TransTimeUnix
	if transAt == 0 {
		parsed, err := parseTransTime(decoded.Data.TransDate, decoded.Data.TransTime)
		if err != nil {
			return slip.Verified{}, err
		}
		transAt = parsed
	}
	return slip.Verified{
		TransRef:       decoded.Data.TransRef,
		Amount:         wallet.Satang(amountBaht*100 + 0.5),
		SenderName:     partyName(decoded.Data.Sender),
		ReceiverName:   partyName(decoded.Data.Receiver),
		SendingBank:    decoded.Data.SendingBank,
		ReceivingBank:  decoded.Data.ReceivingBank,
		TransAtUnixUTC: transAt,
		Raw:            string(raw),
	}, nil
}

// identifiedFacts maps the transfer details a rejection response still
// carries. Amount and time are best-effort; a rejection that omits the
// amount parks at zero and cannot be credited at review.
func identifiedFacts(decoded oracleResponse, raw []byte) slip.Verified {
	facts := slip.Verified{
		TransRef:       decoded.Data.TransRef,
		SenderName:     partyName(decoded.Data.Sender),
		ReceiverName:   partyName(decoded.Data.Receiver),
		SendingBank:    decoded.Data.SendingBank,
		ReceivingBank:  decoded.Data.ReceivingBank,
		TransAtUnixUTC: decoded.Data.TransTimeUnix,
		Raw:            string(raw),
	}
	if amountBaht, err := decoded.Data.Amount.Float64(); err == nil {
		facts.Amount = wallet.Satang(amountBaht*100 + 0.5)
	}
	if facts.TransAtUnixUTC == 0 {
		if parsed, err := parseTransTime(decoded.Data.TransDate, decoded.Data.TransTime); err == nil {
			facts.TransAtUnixUTC = parsed
		}
	}
	return facts
}

// parseTransTime combines the oracle's split date and time fields. Bank
// timestamps are Thailand local time (UTC+7).
func parseTransTime(transDate string, transTime string) (int64, error) {
	location := time.FixedZone("ICT", 7*3600)
	parsed, err := time.ParseInLocation("20060102 15:04:05", transDate+" "+transTime, location)
	if err != nil {
		return 0, fmt.Errorf("%w: bad transfer time %q %q", ErrOracleUnavailable, transDate, transTime)
	}
	return parsed.Unix(), nil
}

func partyName(party oracleParty) string {
	if party.DisplayName != "" {
		return party.DisplayName
	}
	return party.Name
}
