package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kandutap/fuelcard/internal/store/memstore"
	"github.com/kandutap/fuelcard/pkg/ledger"
	"go.uber.org/zap"
)

const (
	testCardID    = "12345"
	unknownCardID = "99990"
)

func newTestServer(test *testing.T) *Server {
	test.Helper()
	store := memstore.New()
	service, err := ledger.NewService(store, func() time.Time { return time.Now().UTC() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	reporter, err := ledger.NewReporter(store)
	if err != nil {
		test.Fatalf("reporter: %v", err)
	}
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}
	return New(cfg, service, reporter, zap.NewNop())
}

func performRequest(test *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.router().ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return body
}

func createCard(test *testing.T, server *Server, cardID string, balance float64) {
	test.Helper()
	recorder := performRequest(test, server, http.MethodPost, "/api/cards", map[string]any{
		"cardId":         cardID,
		"initialBalance": balance,
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("create card: status %d, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestHealthEndpoint(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	recorder := performRequest(test, server, http.MethodGet, "/healthz", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	if decodeBody(test, recorder)["status"] != "ok" {
		test.Fatalf("unexpected health body: %s", recorder.Body.String())
	}
}

func TestCreateCardValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		body        map[string]any
		wantStatus  int
		wantMessage string
	}{
		{
			name:       "valid card",
			body:       map[string]any{"cardId": testCardID, "initialBalance": 150.0},
			wantStatus: http.StatusOK,
		},
		{
			name:        "short card id",
			body:        map[string]any{"cardId": "123", "initialBalance": 10.0},
			wantStatus:  http.StatusBadRequest,
			wantMessage: messageInvalidCardID,
		},
		{
			name:        "non numeric card id",
			body:        map[string]any{"cardId": "12a45", "initialBalance": 10.0},
			wantStatus:  http.StatusBadRequest,
			wantMessage: messageInvalidCardID,
		},
		{
			name:        "missing balance",
			body:        map[string]any{"cardId": testCardID},
			wantStatus:  http.StatusBadRequest,
			wantMessage: messageCreateCardFields,
		},
		{
			name:        "missing card id",
			body:        map[string]any{"initialBalance": 10.0},
			wantStatus:  http.StatusBadRequest,
			wantMessage: messageCreateCardFields,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			server := newTestServer(test)
			recorder := performRequest(test, server, http.MethodPost, "/api/cards", testCase.body)
			if recorder.Code != testCase.wantStatus {
				test.Fatalf("expected %d, got %d: %s", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
			if testCase.wantMessage != "" && decodeBody(test, recorder)["error"] != testCase.wantMessage {
				test.Fatalf("expected error %q, got %s", testCase.wantMessage, recorder.Body.String())
			}
		})
	}
}

func TestCreateDuplicateCard(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)

	recorder := performRequest(test, server, http.MethodPost, "/api/cards", map[string]any{
		"cardId":         testCardID,
		"initialBalance": 10.0,
	})
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if decodeBody(test, recorder)["error"] != messageDuplicateCard {
		test.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestGetCardByID(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)

	recorder := performRequest(test, server, http.MethodGet, "/api/cards?id="+testCardID, nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	if body["id"] != testCardID {
		test.Fatalf("expected id %q, got %v", testCardID, body["id"])
	}
	if body["balance"] != 150.0 {
		test.Fatalf("expected balance 150, got %v", body["balance"])
	}
	if body["status"] != "active" {
		test.Fatalf("expected active status, got %v", body["status"])
	}

	missing := performRequest(test, server, http.MethodGet, "/api/cards?id="+unknownCardID, nil)
	if missing.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", missing.Code)
	}
	if decodeBody(test, missing)["error"] != messageCardNotFound {
		test.Fatalf("unexpected body: %s", missing.Body.String())
	}

	malformed := performRequest(test, server, http.MethodGet, "/api/cards?id=12", nil)
	if malformed.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", malformed.Code)
	}
}

func TestListCards(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, "11111", 200)
	createCard(test, server, testCardID, 150)

	recorder := performRequest(test, server, http.MethodGet, "/api/cards", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	var cards []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &cards); err != nil {
		test.Fatalf("decode cards: %v", err)
	}
	if len(cards) != 2 {
		test.Fatalf("expected 2 cards, got %d", len(cards))
	}
}

func TestUpdateCardBalance(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)

	recorder := performRequest(test, server, http.MethodPut, "/api/cards", map[string]any{
		"id":      testCardID,
		"balance": 77.0,
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	if body["success"] != true || body["changes"] != 1.0 {
		test.Fatalf("unexpected body: %s", recorder.Body.String())
	}

	card := performRequest(test, server, http.MethodGet, "/api/cards?id="+testCardID, nil)
	if decodeBody(test, card)["balance"] != 77.0 {
		test.Fatalf("expected balance 77, got %s", card.Body.String())
	}

	missing := performRequest(test, server, http.MethodPut, "/api/cards", map[string]any{
		"id":      unknownCardID,
		"balance": 10.0,
	})
	if missing.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestTopUpFlow(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)

	topUp := performRequest(test, server, http.MethodPost, "/api/topups", map[string]any{
		"cardId": testCardID,
		"amount": 25.0,
	})
	if topUp.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", topUp.Code, topUp.Body.String())
	}
	if decodeBody(test, topUp)["success"] != true {
		test.Fatalf("unexpected body: %s", topUp.Body.String())
	}

	history := performRequest(test, server, http.MethodGet, "/api/topups?id="+testCardID, nil)
	if history.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", history.Code)
	}
	body := decodeBody(test, history)
	card, ok := body["card"].(map[string]any)
	if !ok {
		test.Fatalf("expected card object, got %s", history.Body.String())
	}
	if card["balance"] != 175.0 {
		test.Fatalf("expected balance 175, got %v", card["balance"])
	}
	topUps, ok := body["topUps"].([]any)
	if !ok || len(topUps) != 1 {
		test.Fatalf("expected one top-up, got %s", history.Body.String())
	}
	entry := topUps[0].(map[string]any)
	if entry["amount"] != 25.0 {
		test.Fatalf("expected amount 25, got %v", entry["amount"])
	}
}

func TestTopUpUnknownCard(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	recorder := performRequest(test, server, http.MethodPost, "/api/topups", map[string]any{
		"cardId": unknownCardID,
		"amount": 10.0,
	})
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(test, recorder)["error"] != messageCardNotFound {
		test.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestTopUpHistoryRequiresCardID(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	recorder := performRequest(test, server, http.MethodGet, "/api/topups", nil)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if decodeBody(test, recorder)["error"] != messageCardIDRequired {
		test.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestPumpHistoryFlow(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)

	record := performRequest(test, server, http.MethodPost, "/api/pump-history", map[string]any{
		"cardId": testCardID,
		"liters": 12.5,
		"cost":   20.0,
	})
	if record.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", record.Code, record.Body.String())
	}

	// Pump usage never debits the balance.
	card := performRequest(test, server, http.MethodGet, "/api/cards?id="+testCardID, nil)
	if decodeBody(test, card)["balance"] != 150.0 {
		test.Fatalf("expected balance untouched at 150, got %s", card.Body.String())
	}

	history := performRequest(test, server, http.MethodGet, "/api/pump-history?id="+testCardID, nil)
	if history.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", history.Code)
	}
	entries, ok := decodeBody(test, history)["history"].([]any)
	if !ok || len(entries) != 1 {
		test.Fatalf("expected one history entry, got %s", history.Body.String())
	}
	entry := entries[0].(map[string]any)
	if entry["liters"] != 12.5 || entry["cost"] != 20.0 {
		test.Fatalf("unexpected entry: %v", entry)
	}
}

func TestPumpRecordAcceptedForUnknownCard(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	recorder := performRequest(test, server, http.MethodPost, "/api/pump-history", map[string]any{
		"cardId": unknownCardID,
		"liters": 5.0,
		"cost":   8.0,
	})
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	history := performRequest(test, server, http.MethodGet, "/api/pump-history?id="+unknownCardID, nil)
	entries, ok := decodeBody(test, history)["history"].([]any)
	if !ok || len(entries) != 1 {
		test.Fatalf("expected one history entry, got %s", history.Body.String())
	}
}

func TestPumpHistoryLimitValidation(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	recorder := performRequest(test, server, http.MethodGet, "/api/pump-history?id="+testCardID+"&limit=abc", nil)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	negative := performRequest(test, server, http.MethodGet, "/api/pump-history?id="+testCardID+"&limit=-1", nil)
	if negative.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", negative.Code)
	}
}

func TestAdminReportShape(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)
	performRequest(test, server, http.MethodPost, "/api/topups", map[string]any{
		"cardId": testCardID,
		"amount": 30.0,
	})
	performRequest(test, server, http.MethodPost, "/api/pump-history", map[string]any{
		"cardId": testCardID,
		"liters": 10.0,
		"cost":   16.0,
	})

	recorder := performRequest(test, server, http.MethodGet, "/api/admin/cards", nil)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(test, recorder)
	for _, key := range []string{"totals", "dailyStats", "topCards", "hourlyDistribution", "cards"} {
		if _, exists := body[key]; !exists {
			test.Fatalf("missing report key %q: %s", key, recorder.Body.String())
		}
	}
	totals, ok := body["totals"].(map[string]any)
	if !ok {
		test.Fatalf("expected totals object, got %s", recorder.Body.String())
	}
	if totals["totalRevenue"] != 30.0 || totals["totalLiters"] != 10.0 || totals["totalPumps"] != 1.0 {
		test.Fatalf("unexpected totals: %v", totals)
	}
	topCards, ok := body["topCards"].([]any)
	if !ok || len(topCards) != 1 {
		test.Fatalf("expected one top card, got %s", recorder.Body.String())
	}
	if topCards[0].(map[string]any)["card_id"] != testCardID {
		test.Fatalf("unexpected top card: %v", topCards[0])
	}
}

func TestUpdateCardStatus(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	createCard(test, server, testCardID, 150)

	frozen := performRequest(test, server, http.MethodPut, "/api/admin/cards/status", map[string]any{
		"cardId": testCardID,
		"status": "frozen",
	})
	if frozen.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d: %s", frozen.Code, frozen.Body.String())
	}
	if decodeBody(test, frozen)["error"] != messageInvalidStatus {
		test.Fatalf("unexpected body: %s", frozen.Body.String())
	}

	disabled := performRequest(test, server, http.MethodPut, "/api/admin/cards/status", map[string]any{
		"cardId": testCardID,
		"status": "disabled",
	})
	if disabled.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", disabled.Code, disabled.Body.String())
	}
	body := decodeBody(test, disabled)
	if body["success"] != true || body["cardId"] != testCardID || body["status"] != "disabled" {
		test.Fatalf("unexpected body: %s", disabled.Body.String())
	}

	card := performRequest(test, server, http.MethodGet, "/api/cards?id="+testCardID, nil)
	if decodeBody(test, card)["status"] != "disabled" {
		test.Fatalf("expected disabled status, got %s", card.Body.String())
	}

	missing := performRequest(test, server, http.MethodPut, "/api/admin/cards/status", map[string]any{
		"cardId": unknownCardID,
		"status": "disabled",
	})
	if missing.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", missing.Code)
	}
}
