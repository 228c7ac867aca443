package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitResolvesPending(t *testing.T) {
	g := New()
	req := Request{
		RequestID:       "r1",
		Options:         []Option{{ID: "approve", Label: "Approve"}, {ID: "deny", Label: "Deny"}},
		DefaultOptionID: "deny",
		Timeout:         time.Second,
	}

	var notified Request
	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, g.Submit("w1", "r1", "approve"))
	}()

	res, err := g.RequestOption(context.Background(), "w1", req, func(_ string, r Request) {
		notified = r
	})
	require.NoError(t, err)
	assert.Equal(t, "approve", res.OptionID)
	assert.Equal(t, SourceUser, res.Source)
	assert.Equal(t, "r1", notified.RequestID)
}

func TestTimeoutResolvesDefault(t *testing.T) {
	g := New()
	req := Request{
		RequestID:       "r2",
		Options:         []Option{{ID: "approve", Label: "Approve"}},
		DefaultOptionID: "approve",
		Timeout:         10 * time.Millisecond,
	}
	res, err := g.RequestOption(context.Background(), "w1", req, nil)
	require.NoError(t, err)
	assert.Equal(t, "approve", res.OptionID)
	assert.Equal(t, SourceTimeout, res.Source)
}

func TestSubmitRejectsInvalidOption(t *testing.T) {
	g := New()
	req := Request{RequestID: "r3", Options: []Option{{ID: "a", Label: "A"}}, Timeout: time.Second}
	go g.RequestOption(context.Background(), "w1", req, nil)
	time.Sleep(5 * time.Millisecond)
	err := g.Submit("w1", "r3", "nope")
	assert.Error(t, err)
}

func TestSubmitUnknownRequest(t *testing.T) {
	g := New()
	err := g.Submit("w1", "missing", "x")
	assert.Error(t, err)
}
