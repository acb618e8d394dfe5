package ringcentral

import (
	"context"
	"errors"
	"testing"
)

type countingProvider struct {
	calls, texts int
	from         string
}

func (p *countingProvider) PlaceCall(ctx context.Context, from, to string) (CallHandle, error) {
	p.calls++
	p.from = from
	return CallHandle{ID: "h1"}, nil
}

func (p *countingProvider) SendText(ctx context.Context, from, to, text string) error {
	p.texts++
	p.from = from
	return nil
}

type callerMap map[string]string

func (m callerMap) CallerNumber(ctx context.Context, userID string) (string, error) {
	return m[userID], nil
}

func TestNoCallerNumberFailsBeforeProvider(t *testing.T) {
	p := &countingProvider{}
	a := NewAdapter(p, callerMap{}, "")
	ctx := context.Background()

	if _, err := a.PlaceCall(ctx, "u1", "+15551234567"); !errors.Is(err, ErrNoCallerNumber) {
		t.Fatalf("expected ErrNoCallerNumber, got %v", err)
	}
	if err := a.SendText(ctx, "u1", "+15551234567", "hi"); !errors.Is(err, ErrNoCallerNumber) {
		t.Fatalf("expected ErrNoCallerNumber, got %v", err)
	}
	if p.calls+p.texts != 0 {
		t.Fatalf("provider must not be contacted")
	}
	if KindOf(ErrNoCallerNumber) != KindConfig {
		t.Fatalf("missing caller number is a configuration error")
	}
}

func TestNoCallerNumberMakesNoNetworkRequest(t *testing.T) {
	c, f := newTestClient(t, passwordConfig(""))
	a := NewAdapter(c, callerMap{}, "")

	if _, err := a.PlaceCall(context.Background(), "u1", "+15551234567"); !errors.Is(err, ErrNoCallerNumber) {
		t.Fatalf("expected ErrNoCallerNumber, got %v", err)
	}
	if f.hits != 0 {
		t.Fatalf("expected zero provider requests, got %d", f.hits)
	}
}

func TestCallerResolutionOrder(t *testing.T) {
	p := &countingProvider{}
	a := NewAdapter(p, callerMap{"u1": "+15550000001"}, "+15550000999")
	ctx := context.Background()

	if _, err := a.PlaceCall(ctx, "u1", "+1555"); err != nil || p.from != "+15550000001" {
		t.Fatalf("user setting should win, from=%s err=%v", p.from, err)
	}
	if err := a.SendText(ctx, "u2", "+1555", "x"); err != nil || p.from != "+15550000999" {
		t.Fatalf("deployment default expected, from=%s err=%v", p.from, err)
	}
}

func TestPlaceCallFromRequiresNumbers(t *testing.T) {
	a := NewAdapter(&countingProvider{}, nil, "")
	if _, err := a.PlaceCallFrom(context.Background(), " ", "+1555"); !errors.Is(err, ErrNoCallerNumber) {
		t.Fatalf("expected ErrNoCallerNumber, got %v", err)
	}
	if _, err := a.PlaceCallFrom(context.Background(), "+1555", ""); KindOf(err) != KindProvider {
		t.Fatalf("expected provider error for an empty destination, got %v", err)
	}
}

func TestUserMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoCallerNumber, "No caller number available. Please set your caller ID number in settings."},
		{configError("missing x"), "RingCentral credentials not configured. Please contact your administrator."},
		{providerError(400, "MSG-304", ""), "The configured phone number doesn't have SMS capability. Please contact your RingCentral administrator to enable SMS for this extension."},
		{providerError(503, "", "Service unavailable"), "RingCentral rejected the request: Service unavailable"},
		{errors.New("boom"), "Unexpected error, please try again."},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Fatalf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
