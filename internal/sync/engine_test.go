package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/combined"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/errorutil"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/logger"
)

// fakeMarketplace serves the latest-orders list for small pages and the
// paginated scan for large ones, mirroring how the two call sites differ.
type fakeMarketplace struct {
	latest    []matching.OrderRecord
	scanPages map[int][]matching.OrderRecord
	checkErr  error
	fetchErr  error
	scanCalls []int
}

func (m *fakeMarketplace) CheckToken(ctx context.Context) error {
	return m.checkErr
}

func (m *fakeMarketplace) FetchRecentOrders(ctx context.Context, opts platform.ListOptions) ([]matching.OrderRecord, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if opts.PerPage >= 100 {
		m.scanCalls = append(m.scanCalls, opts.Page)
		return m.scanPages[opts.Page], nil
	}
	return m.latest, nil
}

type crmUpdate struct {
	orderID string
	payload map[string]interface{}
}

type fakeCRM struct {
	recent    []matching.OrderRecord
	byID      map[string]matching.OrderRecord
	byIDErr   error
	updateErr error
	idCalls   []string
	updates   []crmUpdate
}

func (c *fakeCRM) FetchRecentOrders(ctx context.Context, limit int, include string) ([]matching.OrderRecord, error) {
	return c.recent, nil
}

func (c *fakeCRM) FetchOrderByID(ctx context.Context, orderID string, include string) (matching.OrderRecord, error) {
	c.idCalls = append(c.idCalls, orderID)
	if c.byIDErr != nil {
		return nil, c.byIDErr
	}
	return c.byID[orderID], nil
}

func (c *fakeCRM) UpdateOrder(ctx context.Context, orderID string, payload map[string]interface{}) error {
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updates = append(c.updates, crmUpdate{orderID: orderID, payload: payload})
	return nil
}

func newTestEngine(marketplace *fakeMarketplace, crm *fakeCRM) *Engine {
	fetcher := combined.NewFetcher(marketplace, crm, combined.FetchConfig{
		RozetkaLimit:   20,
		RozetkaPage:    1,
		KeycrmLimit:    20,
		SkipTokenCheck: true,
	}, logger.NopLogger{})

	return NewEngine(marketplace, crm, fetcher, Config{
		LinkFieldUUID: "OR_1002",
		Scan:          ScanConfig{PerPage: 100, MaxPages: 5},
	}, logger.NopLogger{})
}

func rozetkaOrderWithPurchases(extra matching.OrderRecord, urls ...string) matching.OrderRecord {
	purchases := make([]interface{}, 0, len(urls))
	for i, url := range urls {
		purchases = append(purchases, map[string]interface{}{
			"id":       i + 1,
			"quantity": 1,
			"item": map[string]interface{}{
				"id":  i + 100,
				"url": url,
			},
		})
	}
	order := matching.OrderRecord{"purchases": purchases}
	for k, v := range extra {
		order[k] = v
	}
	return order
}

func TestSyncForPayloadMatchedPair(t *testing.T) {
	marketplace := &fakeMarketplace{
		latest: []matching.OrderRecord{
			rozetkaOrderWithPurchases(matching.OrderRecord{"id": "RZ1", "source_uuid": "UUID-9"}, "http://shop/x"),
		},
	}
	crm := &fakeCRM{
		recent: []matching.OrderRecord{{"id": 500, "source_uuid": "UUID-9"}},
	}
	engine := newTestEngine(marketplace, crm)

	payload := matching.OrderRecord{
		"event": "order.change_order_status",
		"order": map[string]interface{}{"id": 500, "source_uuid": "UUID-9"},
	}

	result, err := engine.SyncForPayload(context.Background(), payload)
	require.NoError(t, err)

	assert.True(t, result.Updated)
	assert.Equal(t, 500, result.KeycrmOrderID)
	assert.Equal(t, "RZ1", result.RozetkaOrderID)
	assert.Equal(t, "OR_1002", result.FieldUUID)
	assert.Equal(t, "http://shop/x", result.Value)
	assert.Equal(t, []string{"http://shop/x"}, result.URLs)
	assert.Equal(t, "source_uuid", result.MatchField)

	require.Len(t, crm.updates, 1)
	assert.Equal(t, "500", crm.updates[0].orderID)
	fields, ok := crm.updates[0].payload["custom_fields"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "OR_1002", fields[0]["uuid"])
	assert.Equal(t, "http://shop/x", fields[0]["value"])

	require.NotNil(t, result.Debug)
	assert.Equal(t, "matchedPair", result.Debug.PurchaseItemsSource)
	require.NotNil(t, result.Debug.MatchedPair)
	assert.Equal(t, "source_uuid", result.Debug.MatchedPair.MatchField)
	// marketplace scan never runs when the pair already carries the order
	assert.Empty(t, marketplace.scanCalls)
}

func TestSyncForPayloadUnresolvedKeycrmID(t *testing.T) {
	engine := newTestEngine(&fakeMarketplace{}, &fakeCRM{})

	result, err := engine.SyncForPayload(context.Background(), matching.OrderRecord{"event": "ping"})
	require.NoError(t, err)

	assert.False(t, result.Updated)
	assert.Equal(t, "Unable to resolve KeyCRM order ID from webhook payload.", result.Reason)
	require.NotNil(t, result.Debug)
	assert.Empty(t, result.Debug.KeycrmHints)
}

func TestSyncForPayloadDirectLookupAndScanFallback(t *testing.T) {
	marketplace := &fakeMarketplace{
		scanPages: map[int][]matching.OrderRecord{
			1: {{"id": "other"}},
			2: {rozetkaOrderWithPurchases(matching.OrderRecord{"id": "RZ2", "source_uuid": "UUID-A"}, "http://shop/a", "http://shop/b")},
		},
	}
	crm := &fakeCRM{
		byID: map[string]matching.OrderRecord{
			"777": {"id": 777, "source_uuid": "UUID-A"},
		},
	}
	engine := newTestEngine(marketplace, crm)

	payload := matching.OrderRecord{
		"event": "order.change_order_status",
		"order": map[string]interface{}{"id": 777},
	}

	result, err := engine.SyncForPayload(context.Background(), payload)
	require.NoError(t, err)

	assert.True(t, result.Updated)
	assert.Equal(t, 777, result.KeycrmOrderID)
	assert.Equal(t, "RZ2", result.RozetkaOrderID)
	assert.Equal(t, "http://shop/a\nhttp://shop/b", result.Value)

	assert.Equal(t, []string{"777"}, crm.idCalls)
	require.NotNil(t, result.Debug)
	assert.True(t, result.Debug.KeycrmDirectFetch.Found)
	assert.Equal(t, "777", result.Debug.KeycrmDirectFetch.FoundID)
	assert.True(t, result.Debug.RozetkaFallback.Enabled)
	assert.Equal(t, 2, result.Debug.RozetkaFallback.FoundOnPage)
	assert.Equal(t, "rozetkaFallback", result.Debug.PurchaseItemsSource)
	assert.Equal(t, []int{1, 2}, marketplace.scanCalls)
}

func TestSyncForPayloadNoRozetkaMatch(t *testing.T) {
	crm := &fakeCRM{
		byID: map[string]matching.OrderRecord{
			"42": {"id": 42},
		},
	}
	engine := newTestEngine(&fakeMarketplace{}, crm)

	payload := matching.OrderRecord{"order": map[string]interface{}{"id": 42}}

	result, err := engine.SyncForPayload(context.Background(), payload)
	require.NoError(t, err)

	assert.False(t, result.Updated)
	assert.Equal(t, "Unable to match Rozetka order for the provided payload.", result.Reason)
	assert.Equal(t, 42, result.KeycrmOrderID)
	require.NotNil(t, result.Debug)
	assert.True(t, result.Debug.RozetkaFallback.ReachedEnd)
}

func TestSyncForPayloadNoProductURLs(t *testing.T) {
	marketplace := &fakeMarketplace{
		latest: []matching.OrderRecord{{"id": "RZ3", "source_uuid": "UUID-B"}},
	}
	crm := &fakeCRM{
		recent: []matching.OrderRecord{{"id": 600, "source_uuid": "UUID-B"}},
	}
	engine := newTestEngine(marketplace, crm)

	payload := matching.OrderRecord{"order": map[string]interface{}{"id": 600, "source_uuid": "UUID-B"}}

	result, err := engine.SyncForPayload(context.Background(), payload)
	require.NoError(t, err)

	assert.False(t, result.Updated)
	assert.Equal(t, "No Rozetka product URLs found for the matched order.", result.Reason)
	assert.Equal(t, 600, result.KeycrmOrderID)
	assert.Equal(t, "RZ3", result.RozetkaOrderID)
	assert.Empty(t, crm.updates)
}

func TestSyncForPayloadFetchFailureIsRetryable(t *testing.T) {
	marketplace := &fakeMarketplace{fetchErr: errors.New("rozetka 503")}
	engine := newTestEngine(marketplace, &fakeCRM{})

	_, err := engine.SyncForPayload(context.Background(), matching.OrderRecord{"order": map[string]interface{}{"id": 1}})
	require.Error(t, err)
	assert.True(t, errorutil.IsRetryable(err))
}

func TestSyncForPayloadUpdateFailureIsRetryable(t *testing.T) {
	marketplace := &fakeMarketplace{
		latest: []matching.OrderRecord{
			rozetkaOrderWithPurchases(matching.OrderRecord{"id": "RZ1", "source_uuid": "UUID-9"}, "http://shop/x"),
		},
	}
	crm := &fakeCRM{
		recent:    []matching.OrderRecord{{"id": 500, "source_uuid": "UUID-9"}},
		updateErr: errors.New("keycrm 500"),
	}
	engine := newTestEngine(marketplace, crm)

	_, err := engine.SyncForPayload(context.Background(), matching.OrderRecord{"order": map[string]interface{}{"id": 500}})
	require.Error(t, err)
	assert.True(t, errorutil.IsRetryable(err))
}

func TestSyncLatest(t *testing.T) {
	t.Run("writes link for the latest pair", func(t *testing.T) {
		marketplace := &fakeMarketplace{
			latest: []matching.OrderRecord{
				rozetkaOrderWithPurchases(matching.OrderRecord{"id": "RZ1", "source_uuid": "UUID-9"}, "http://shop/x"),
			},
		}
		crm := &fakeCRM{
			recent: []matching.OrderRecord{{"id": 500, "source_uuid": "UUID-9"}},
		}
		engine := newTestEngine(marketplace, crm)

		result, err := engine.SyncLatest(context.Background())
		require.NoError(t, err)

		assert.True(t, result.Updated)
		assert.Equal(t, 500, result.KeycrmOrderID)
		assert.Equal(t, "http://shop/x", result.Value)
		require.Len(t, crm.updates, 1)
	})

	t.Run("no matched orders", func(t *testing.T) {
		engine := newTestEngine(&fakeMarketplace{}, &fakeCRM{})

		result, err := engine.SyncLatest(context.Background())
		require.NoError(t, err)

		assert.False(t, result.Updated)
		assert.Equal(t, "No matched orders found between Rozetka and KeyCRM.", result.Reason)
	})

	t.Run("pair without urls", func(t *testing.T) {
		marketplace := &fakeMarketplace{
			latest: []matching.OrderRecord{{"id": "RZ1", "source_uuid": "UUID-9"}},
		}
		crm := &fakeCRM{
			recent: []matching.OrderRecord{{"id": 500, "source_uuid": "UUID-9"}},
		}
		engine := newTestEngine(marketplace, crm)

		result, err := engine.SyncLatest(context.Background())
		require.NoError(t, err)

		assert.False(t, result.Updated)
		assert.Equal(t, "No Rozetka product URLs found for the latest matched order.", result.Reason)
	})
}

func TestSearchRozetkaFallbackStopsOnError(t *testing.T) {
	marketplace := &fakeMarketplace{fetchErr: errors.New("rate limited")}
	debug := &RozetkaFallbackDebug{}

	result := searchRozetkaFallback(context.Background(), marketplace,
		matching.NewHintSet("X"), ScanConfig{PerPage: 100, MaxPages: 5}, debug)

	assert.Nil(t, result.Order)
	assert.Equal(t, "rate limited", debug.LastError)
	assert.Empty(t, result.Attempts)
}

func TestSearchRozetkaFallbackStopsOnEmptyPage(t *testing.T) {
	marketplace := &fakeMarketplace{
		scanPages: map[int][]matching.OrderRecord{
			1: {{"id": "nope"}},
			// page 2 empty: end of data
		},
	}
	debug := &RozetkaFallbackDebug{}

	result := searchRozetkaFallback(context.Background(), marketplace,
		matching.NewHintSet("X"), ScanConfig{PerPage: 100, MaxPages: 5}, debug)

	assert.Nil(t, result.Order)
	assert.True(t, debug.ReachedEnd)
	assert.Equal(t, []int{1, 2}, debug.Attempts)
	assert.Equal(t, []int{1, 2}, marketplace.scanCalls)
}

func TestSearchRozetkaFallbackNoHints(t *testing.T) {
	marketplace := &fakeMarketplace{}
	result := searchRozetkaFallback(context.Background(), marketplace,
		matching.NewHintSet(), ScanConfig{PerPage: 100, MaxPages: 5}, nil)

	assert.Nil(t, result.Order)
	assert.Empty(t, marketplace.scanCalls)
}

func TestFetchKeycrmDirectAttemptCap(t *testing.T) {
	crm := &fakeCRM{byID: map[string]matching.OrderRecord{}}
	hints := matching.NewHintSet("1", "2", "3", "4", "5", "6", "7")
	debug := &KeycrmFallbackDebug{}

	result := fetchKeycrmDirect(context.Background(), crm, hints, "", 5, debug)

	assert.Nil(t, result.Order)
	assert.Len(t, crm.idCalls, 5)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, debug.Attempts)
	assert.False(t, debug.Found)
}

func TestFetchKeycrmDirectStopsOnError(t *testing.T) {
	crm := &fakeCRM{byIDErr: errors.New("keycrm down")}
	debug := &KeycrmFallbackDebug{}

	result := fetchKeycrmDirect(context.Background(), crm,
		matching.NewHintSet("1", "2"), "", 5, debug)

	assert.Nil(t, result.Order)
	assert.Len(t, crm.idCalls, 1)
	assert.Equal(t, "keycrm down", debug.LastError)
}

func TestFetchKeycrmDirectFindsOrder(t *testing.T) {
	crm := &fakeCRM{byID: map[string]matching.OrderRecord{
		"2": {"id": 2},
	}}
	debug := &KeycrmFallbackDebug{}

	result := fetchKeycrmDirect(context.Background(), crm,
		matching.NewHintSet("1", "2", "3"), "", 5, debug)

	require.NotNil(t, result.Order)
	assert.Equal(t, "2", result.ID)
	assert.True(t, debug.Found)
	assert.Equal(t, "2", debug.FoundID)
	// stops at the hit, the third hint is never tried
	assert.Equal(t, []string{"1", "2"}, result.Attempts)
}

func TestJoinURLsCapsAndTrims(t *testing.T) {
	urls := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		urls = append(urls, "http://shop/item")
	}
	joined := joinURLs(urls)
	assert.Len(t, splitLines(joined), 10)

	assert.Equal(t, "a\nb", joinURLs([]string{" a ", "", "b"}))
	assert.Equal(t, "", joinURLs(nil))
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
