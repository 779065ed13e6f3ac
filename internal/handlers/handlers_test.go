package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chairtime/chairtime/internal/booking"
)

func TestWriteDomainErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&booking.ValidationError{Field: "start_time", Reason: "must be in the future"}, http.StatusBadRequest},
		{fmt.Errorf("%w: id", booking.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: taken", booking.ErrSlotUnavailable), http.StatusConflict},
		{&booking.PolicyViolationError{Rule: "too late"}, http.StatusUnprocessableEntity},
		{&booking.PaymentError{IntentID: "pi_1", Err: fmt.Errorf("declined")}, http.StatusPaymentRequired},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("status for %v = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestSlotConflictResponseCarriesHint(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("%w: 10:00", booking.ErrSlotUnavailable))

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Hint == "" {
		t.Fatal("conflict response should tell the caller to re-fetch availability")
	}
}

func TestQueryUUIDRejectsGarbage(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/?provider_id=not-a-uuid", nil)
	if _, ok := queryUUID(rec, r, "provider_id"); ok {
		t.Fatal("expected rejection of malformed uuid")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
