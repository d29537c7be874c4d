package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/pkg/token"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGetCachesUntilExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	expiresAt := now.Add(10 * time.Minute).Unix()
	svc := token.New("wf-def", func(ctx context.Context, def, ns string) (*token.DirectAccessResponse, error) {
		calls++
		return &token.DirectAccessResponse{Token: "tok-1", WorkflowServiceExpiresAt: &expiresAt}, nil
	}, token.WithClock(fixedClock(now)))

	tok1, err := svc.Get(context.Background(), "ns1")
	require.NoError(t, err)
	require.NotNil(t, tok1)
	assert.Equal(t, "tok-1", tok1.Value)

	tok2, err := svc.Get(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, tok1.Value, tok2.Value)
	assert.Equal(t, 1, calls)
}

func TestGetRefetchesAfterExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	calls := 0
	shortExpiry := now.Add(2 * time.Second).Unix()
	svc := token.New("wf-def", func(ctx context.Context, def, ns string) (*token.DirectAccessResponse, error) {
		calls++
		return &token.DirectAccessResponse{Token: "tok", WorkflowServiceExpiresAt: &shortExpiry}, nil
	}, token.WithClock(func() time.Time { return current }), token.WithSafetyMargin(0))

	_, err := svc.Get(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// cached copy still valid (expiry is 2s out, margin 0)
	_, err = svc.Get(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// past the expiry the cached copy is stale and a new fetch happens
	current = now.Add(3 * time.Second)
	_, err = svc.Get(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetUsesEarlierOfTwoExpiries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour).Unix()
	earlierISO := now.Add(5 * time.Minute).Format(time.RFC3339)
	svc := token.New("wf-def", func(ctx context.Context, def, ns string) (*token.DirectAccessResponse, error) {
		return &token.DirectAccessResponse{
			Token:                     "tok",
			WorkflowServiceExpiresAt:  &later,
			GitlabRailsTokenExpiresAt: &earlierISO,
		}, nil
	}, token.WithClock(fixedClock(now)), token.WithSafetyMargin(0))

	tok, err := svc.Get(context.Background(), "")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(5*time.Minute), tok.ExpiresAt, time.Second)
}

func TestGetFallsBackToDefaultWindowWhenNoExpiryPresent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := token.New("wf-def", func(ctx context.Context, def, ns string) (*token.DirectAccessResponse, error) {
		return &token.DirectAccessResponse{Token: "not-a-jwt"}, nil
	}, token.WithClock(fixedClock(now)), token.WithDefaultWindow(5*time.Minute))

	tok, err := svc.Get(context.Background(), "")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(5*time.Minute), tok.ExpiresAt, time.Second)
}

func TestGetReturnsNilOnFetchFailure(t *testing.T) {
	svc := token.New("wf-def", func(ctx context.Context, def, ns string) (*token.DirectAccessResponse, error) {
		return nil, assertErr
	})
	tok, err := svc.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

var assertErr = &fetchError{}

type fetchError struct{}

func (*fetchError) Error() string { return "fetch failed" }
