package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/internal/domain/services"
	"formaos-compliance/pkg/logger"
)

var _ services.EventPublisher = (*EventBusPublisher)(nil)

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	err       error
	published []*models.ComplianceEvent
	closed    bool
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) PublishComplianceEvent(_ context.Context, event *models.ComplianceEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, *Subscription) (<-chan *models.ComplianceEvent, error) {
	ch := make(chan *models.ComplianceEvent)
	close(ch)
	return ch, nil
}

func (b *fakeBroker) Close() { b.closed = true }

func event(t models.ComplianceEventType, org, code string) *models.ComplianceEvent {
	e := models.NewComplianceEvent(t, org)
	e.FrameworkCode = code
	return e
}

func TestSubscriptionMatches(t *testing.T) {
	ev := event(models.EventEvaluationCompleted, "org-1", "SOC2")

	tests := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{"nil matches everything", nil, true},
		{"empty matches everything", &Subscription{}, true},
		{"same org", &Subscription{OrgID: "org-1"}, true},
		{"other org", &Subscription{OrgID: "org-2"}, false},
		{"type listed", &Subscription{Types: []models.ComplianceEventType{models.EventBlockCreated, models.EventEvaluationCompleted}}, true},
		{"type not listed", &Subscription{Types: []models.ComplianceEventType{models.EventBlockCreated}}, false},
		{"framework case-insensitive", &Subscription{FrameworkCodes: []string{"soc2"}}, true},
		{"framework not listed", &Subscription{FrameworkCodes: []string{"HIPAA"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(ev))
		})
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "compliance.evaluation_completed.org-1",
		Subject("", event(models.EventEvaluationCompleted, "org-1", "SOC2")))
	assert.Equal(t, "fx.pack_loaded.global",
		Subject("fx", event(models.EventPackLoaded, "", "")))
	assert.Equal(t, "compliance.block_created.acme_corp_",
		Subject("compliance", event(models.EventBlockCreated, "acme.corp*", "")))

	assert.Equal(t, "compliance.>", SubscriptionSubject("", nil))
	assert.Equal(t, "compliance.*.org-1", SubscriptionSubject("compliance", &Subscription{OrgID: "org-1"}))
}

func TestEventBus(t *testing.T) {
	ctx := context.Background()

	t.Run("fans out to matching subscribers and the broker", func(t *testing.T) {
		broker := &fakeBroker{connected: true}
		bus := NewEventBus(broker, logger.NewNop())

		all, unsubAll := bus.Subscribe(ctx, nil)
		defer unsubAll()
		org2, unsubOrg2 := bus.Subscribe(ctx, &Subscription{OrgID: "org-2"})
		defer unsubOrg2()

		ev := event(models.EventEvaluationCompleted, "org-1", "SOC2")
		require.NoError(t, bus.Publish(ctx, ev))

		assert.Same(t, ev, <-all)
		select {
		case got := <-org2:
			t.Fatalf("unexpected event for org-2: %v", got)
		default:
		}
		assert.Len(t, broker.published, 1)
	})

	t.Run("broker failure still broadcasts locally", func(t *testing.T) {
		broker := &fakeBroker{connected: true, err: errors.New("nats down")}
		bus := NewEventBus(broker, logger.NewNop())

		ch, unsub := bus.Subscribe(ctx, nil)
		defer unsub()

		require.NoError(t, bus.Publish(ctx, event(models.EventBlockCreated, "org-1", "")))
		assert.Equal(t, models.EventBlockCreated, (<-ch).Type)
	})

	t.Run("disconnected broker is skipped", func(t *testing.T) {
		broker := &fakeBroker{}
		bus := NewEventBus(broker, logger.NewNop())
		require.NoError(t, bus.Publish(ctx, event(models.EventBlockCreated, "org-1", "")))
		assert.Empty(t, broker.published)

		_, err := bus.SubscribeRemote(ctx, nil)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		bus := NewEventBus(nil, logger.NewNop())
		ch, unsub := bus.Subscribe(ctx, nil)
		assert.Equal(t, 1, bus.SubscriberCount())

		unsub()
		unsub()
		assert.Equal(t, 0, bus.SubscriberCount())
		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("full subscriber drops instead of blocking", func(t *testing.T) {
		bus := NewEventBus(nil, logger.NewNop())
		_, unsub := bus.Subscribe(ctx, nil)
		defer unsub()

		for range 150 {
			require.NoError(t, bus.Publish(ctx, event(models.EventPackLoaded, "", "")))
		}
	})

	t.Run("close closes broker and subscribers", func(t *testing.T) {
		broker := &fakeBroker{connected: true}
		bus := NewEventBus(broker, logger.NewNop())
		ch, _ := bus.Subscribe(ctx, nil)

		bus.Close()
		_, open := <-ch
		assert.False(t, open)
		assert.True(t, broker.closed)
	})
}

func TestWebSocketHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWebSocketHub(nil, logger.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?org_id=org-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	publisher := NewEventBusPublisher(NewEventBus(nil, logger.NewNop()), hub)

	// filtered out by the org_id subscription
	require.NoError(t, publisher.PublishComplianceEvent(ctx, event(models.EventBlockCreated, "org-2", "")))
	score := 81
	want := event(models.EventEvaluationCompleted, "org-1", "SOC2")
	want.Score = &score
	require.NoError(t, publisher.PublishComplianceEvent(ctx, want))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.ComplianceEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "org-1", got.OrgID)
	require.NotNil(t, got.Score)
	assert.Equal(t, 81, *got.Score)
}

func TestWebSocketOriginCheck(t *testing.T) {
	hub := NewWebSocketHub([]string{"https://app.formaos.example"}, logger.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
