package ringcentral

import (
	"context"
	"fmt"
	"strings"
)

// CallerStore looks up a user's saved caller ID. An empty result means none.
type CallerStore interface {
	CallerNumber(ctx context.Context, userID string) (string, error)
}

// Provider is the subset of Client the adapter drives.
type Provider interface {
	PlaceCall(ctx context.Context, from, to string) (CallHandle, error)
	SendText(ctx context.Context, from, to, text string) error
}

// Adapter resolves the caller number for a user and then calls the provider.
// Resolution order: the user's own setting, then the deployment default.
type Adapter struct {
	provider      Provider
	callers       CallerStore
	defaultCaller string
}

func NewAdapter(p Provider, callers CallerStore, defaultCaller string) *Adapter {
	return &Adapter{provider: p, callers: callers, defaultCaller: strings.TrimSpace(defaultCaller)}
}

// CallerFor returns the number calls and texts from userID are sent from.
func (a *Adapter) CallerFor(ctx context.Context, userID string) (string, error) {
	if a.callers != nil && userID != "" {
		n, err := a.callers.CallerNumber(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("load caller number: %w", err)
		}
		if n = strings.TrimSpace(n); n != "" {
			return n, nil
		}
	}
	if a.defaultCaller != "" {
		return a.defaultCaller, nil
	}
	return "", ErrNoCallerNumber
}

func (a *Adapter) PlaceCall(ctx context.Context, userID, to string) (CallHandle, error) {
	from, err := a.CallerFor(ctx, userID)
	if err != nil {
		return CallHandle{}, err
	}
	return a.PlaceCallFrom(ctx, from, to)
}

// PlaceCallFrom places a ring-out from an already resolved caller number.
func (a *Adapter) PlaceCallFrom(ctx context.Context, from, to string) (CallHandle, error) {
	if strings.TrimSpace(from) == "" {
		return CallHandle{}, ErrNoCallerNumber
	}
	if strings.TrimSpace(to) == "" {
		return CallHandle{}, &Error{Kind: KindProvider, Message: "phone number is required"}
	}
	return a.provider.PlaceCall(ctx, from, to)
}

func (a *Adapter) SendText(ctx context.Context, userID, to, text string) error {
	from, err := a.CallerFor(ctx, userID)
	if err != nil {
		return err
	}
	return a.SendTextFrom(ctx, from, to, text)
}

func (a *Adapter) SendTextFrom(ctx context.Context, from, to, text string) error {
	if strings.TrimSpace(from) == "" {
		return ErrNoCallerNumber
	}
	if strings.TrimSpace(to) == "" {
		return &Error{Kind: KindProvider, Message: "phone number is required"}
	}
	return a.provider.SendText(ctx, from, to, text)
}
