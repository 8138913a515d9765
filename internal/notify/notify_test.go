package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestAMQPPublisherRoutesByStatus(t *testing.T) {
	ch := &fakeChannel{}
	p := NewAMQPPublisher(ch, "remit.transfers")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, p.SendTransferStatus(context.Background(), Notification{
		TransferID: "t-1", ReferenceCode: "FX-ABCDEF", UserID: "u-1", Status: domain.StatusCompleted,
		RecipientGets: "1169.03", ToAsset: "MXN", At: at,
	}))
	require.NoError(t, p.TransferFailed(context.Background(), Alert{TransferID: "t-2", Reason: "declined", At: at}))

	require.Len(t, ch.msgs, 2)
	assert.Equal(t, "remit.transfers", ch.msgs[0].exchange)
	assert.Equal(t, "transfer.completed", ch.msgs[0].key)
	assert.Equal(t, "t-1", ch.msgs[0].msg.MessageId)
	assert.Equal(t, "application/json", ch.msgs[0].msg.ContentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(ch.msgs[0].msg.Body, &body))
	assert.Equal(t, "FX-ABCDEF", body["referenceCode"])
	assert.Equal(t, "COMPLETED", body["status"])

	assert.Equal(t, "alert.transfer_failed", ch.msgs[1].key)
}

func TestAMQPPublisherWrapsErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	err := NewAMQPPublisher(ch, "x").SendTransferStatus(context.Background(), Notification{Status: domain.StatusFailed})
	assert.ErrorContains(t, err, "transfer.failed")
	assert.ErrorContains(t, err, "channel closed")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.SendTransferStatus(context.Background(), Notification{TransferID: "t-1", Status: domain.StatusCompleted}))
	require.NoError(t, n.TransferFailed(context.Background(), Alert{TransferID: "t-1", Reason: "declined"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "transfer status notification", entries[0].Message)
	assert.Equal(t, "declined", entries[1].ContextMap()["reason"])
}
