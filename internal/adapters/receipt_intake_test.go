package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosum/internal/core"
	"zerosum/internal/mutation"
	"zerosum/internal/remote/memory"
)

// 1x1 PNG header is enough for content sniffing.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type memImages struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memImages) Put(_ context.Context, id, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return nil
}

func (m *memImages) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *memImages) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type recordingPublisher struct {
	ids []string
	err error
}

func (p *recordingPublisher) PublishScanRequested(_ context.Context, id string) error {
	p.ids = append(p.ids, id)
	return p.err
}

type fixture struct {
	store  *memory.Store
	fw     *mutation.Framework
	images *memImages
	pub    *recordingPublisher
	intake *ReceiptIntake
	acct   core.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	fw := mutation.New(store, mutation.NewView(), mutation.NewMemoryLog(), mutation.NewNotifier(time.Second, 5*time.Second))
	_, err := fw.Seed(context.Background(), core.Month("2024-05"))
	require.NoError(t, err)

	images := &memImages{data: make(map[string][]byte)}
	pub := &recordingPublisher{}
	intake := NewReceiptIntake(images, fw, pub)
	intake.now = func() time.Time { return time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC) }
	return &fixture{store: store, fw: fw, images: images, pub: pub, intake: intake, acct: fw.View().Accounts()[0]}
}

func TestSubmit(t *testing.T) {
	fx := newFixture(t)
	tx, err := fx.intake.Submit(context.Background(), Receipt{AccountID: fx.acct.ID, Image: pngBytes})
	require.NoError(t, err)

	assert.Equal(t, core.ScanPending, tx.ScanStatus)
	assert.Equal(t, "2024-05-18", tx.Date)
	assert.Zero(t, tx.Amount)
	assert.Equal(t, []string{tx.ID}, fx.pub.ids)
	assert.Equal(t, 1, fx.images.len())

	saved, ok := fx.fw.View().Transaction(tx.ID)
	require.True(t, ok)
	assert.True(t, saved.AwaitingScan(3))
}

func TestSubmitRejects(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.intake.Submit(ctx, Receipt{AccountID: fx.acct.ID})
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = fx.intake.Submit(ctx, Receipt{AccountID: fx.acct.ID, Image: []byte("plain text, not a picture")})
	assert.ErrorIs(t, err, ErrNotAnImage)

	pdf := []byte("%PDF-1.4\n1 0 obj\n")
	_, err = fx.intake.Submit(ctx, Receipt{AccountID: fx.acct.ID, Image: pdf})
	assert.ErrorIs(t, err, ErrNotAnImage)
	_, err = fx.intake.Submit(ctx, Receipt{AccountID: fx.acct.ID, ContentType: "image/png", Image: pdf})
	assert.ErrorIs(t, err, ErrNotAnImage, "declared type does not override a sniffed PDF")

	_, err = fx.intake.Submit(ctx, Receipt{AccountID: fx.acct.ID, Image: make([]byte, MaxImageBytes+1)})
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = fx.intake.Submit(ctx, Receipt{AccountID: "missing", Image: pngBytes})
	assert.True(t, mutation.IsValidation(err), "got %v", err)

	assert.Zero(t, fx.images.len(), "rejected receipts leave no image behind")
	assert.Empty(t, fx.pub.ids)
}

func TestSubmitQueuedKeepsImage(t *testing.T) {
	fx := newFixture(t)
	fx.store.SetOffline(true)

	_, err := fx.intake.Submit(context.Background(), Receipt{AccountID: fx.acct.ID, Image: pngBytes})
	require.True(t, mutation.IsQueued(err), "got %v", err)
	assert.Equal(t, 1, fx.images.len())
	assert.Empty(t, fx.pub.ids)
}

func TestSubmitPublishFailureIsNotFatal(t *testing.T) {
	fx := newFixture(t)
	fx.pub.err = errors.New("circuit breaker is open")

	tx, err := fx.intake.Submit(context.Background(), Receipt{AccountID: fx.acct.ID, Image: pngBytes})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
}

func TestSubmitWithoutPublisher(t *testing.T) {
	fx := newFixture(t)
	fx.intake.publisher = nil
	_, err := fx.intake.Submit(context.Background(), Receipt{AccountID: fx.acct.ID, Image: pngBytes})
	require.NoError(t, err)
}
