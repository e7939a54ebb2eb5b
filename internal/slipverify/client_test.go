package slipverify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pranakorn/creditbot/internal/slip"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, "test-key", WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("client init: %v", err)
	}
	return client
}

func TestVerifyImageMapsSuccess(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		if !strings.HasPrefix(request.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart upload, got %q", request.Header.Get("Content-Type"))
		}
		if err := request.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		} else if _, _, err := request.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"code": 200000,
			"message": "success",
			"data": {
				"transRef": "REF123",
				"transDate": "20231114",
				"transTime": "12:30:00",
				"amount": 100.50,
				"sender": {"displayName": "Somchai J."},
				"receiver": {"name": "Shop Co."},
				"sendingBank": "004",
				"receivingBank": "014"
			}
		}`))
	})

	verified, err := client.VerifyImage(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.TransRef != "REF123" {
		t.Fatalf("unexpected trans ref %q", verified.TransRef)
	}
	if verified.Amount != 100_50 {
		t.Fatalf("expected 10050 satang, got %d", verified.Amount)
	}
	if verified.SenderName != "Somchai J." || verified.ReceiverName != "Shop Co." {
		t.Fatalf("unexpected parties %q %q", verified.SenderName, verified.ReceiverName)
	}
	// 2023-11-14 12:30:00 ICT is 05:30:00 UTC.
	want := time.Date(2023, 11, 14, 5, 30, 0, 0, time.UTC).Unix()
	if verified.TransAtUnixUTC != want {
		t.Fatalf("expected transfer time %d, got %d", want, verified.TransAtUnixUTC)
	}
	if verified.Raw == "" {
		t.Fatalf("raw response must be retained")
	}
}

func TestVerifyImagePrefersUnixTimestamp(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{
			"code": "200001",
			"data": {"transRef": "REF124", "transTimestamp": 1700000000, "amount": 50}
		}`))
	})

	verified, err := client.VerifyImage(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.TransAtUnixUTC != 1_700_000_000 {
		t.Fatalf("expected the unix timestamp, got %d", verified.TransAtUnixUTC)
	}
	if verified.Amount != 50_00 {
		t.Fatalf("expected 5000 satang, got %d", verified.Amount)
	}
}

func TestVerifyImageMapsKnownRejection(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{
			"code": 200402,
			"message": "mismatch",
			"data": {
				"transRef": "REF125",
				"transTimestamp": 1700000000,
				"amount": 100.50,
				"sender": {"displayName": "Somchai J."}
			}
		}`))
	})

	_, err := client.VerifyImage(context.Background(), []byte("jpeg"))
	var rejection slip.VerificationError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if rejection.Code != "200402" || rejection.TransRef != "REF125" {
		t.Fatalf("unexpected rejection %+v", rejection)
	}
	if rejection.Reason == "" {
		t.Fatalf("known code must carry a canned reason")
	}
	if rejection.Facts.Amount != 100_50 || rejection.Facts.TransAtUnixUTC != 1_700_000_000 {
		t.Fatalf("rejection must carry the attested transfer facts, got %+v", rejection.Facts)
	}
	if rejection.Facts.SenderName != "Somchai J." || rejection.Facts.Raw == "" {
		t.Fatalf("rejection must keep parties and the raw response, got %+v", rejection.Facts)
	}
	if !errors.Is(err, slip.ErrVerificationFailed) {
		t.Fatalf("rejection must unwrap to ErrVerificationFailed")
	}
}

func TestVerifyImageMapsUnknownRejection(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"code": 200999, "message": "strange failure"}`))
	})

	_, err := client.VerifyImage(context.Background(), []byte("jpeg"))
	var rejection slip.VerificationError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if rejection.Code != "200999" || rejection.Reason != "strange failure" {
		t.Fatalf("unknown code must fall back to the oracle message, got %+v", rejection)
	}
}

func TestVerifyImageServerFailure(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "boom", http.StatusBadGateway)
	})

	_, err := client.VerifyImage(context.Background(), []byte("jpeg"))
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("5xx must report ErrOracleUnavailable, got %v", err)
	}
}

func TestVerifyImageUndecodableResponse(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte("<html>not json</html>"))
	})

	_, err := client.VerifyImage(context.Background(), []byte("jpeg"))
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("undecodable body must report ErrOracleUnavailable, got %v", err)
	}
}
