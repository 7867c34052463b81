package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dashboard/internal/fleet/infrastructure/upstream"
)

func newFakeClient(t *testing.T, srv *fakeFleetAPI) *upstream.Client {
	t.Helper()
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	client, err := upstream.NewClient(ts.URL, "")
	require.NoError(t, err)
	return client
}

func TestFakeFleetAPIServesClientShapes(t *testing.T) {
	srv := newFakeFleetAPI(4, time.Now().UTC(), 1)
	client := newFakeClient(t, srv)
	ctx := context.Background()

	trailers, err := client.ListTrailers(ctx)
	require.NoError(t, err)
	require.Len(t, trailers, 4)
	assert.Equal(t, "site-01", trailers[0].SiteID)
	assert.Equal(t, "PT-01", trailers[0].Name)
	require.NotNil(t, trailers[0].Snapshot)
	require.NotNil(t, trailers[0].Snapshot.SOC)

	devices, err := client.ListNetworkDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 4)
	assert.Equal(t, "pt-01", devices[0].Name)
	assert.False(t, devices[0].LastSeen.IsZero())

	sites, err := client.ListJobSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "js-1", sites[0].ID)

	actions, err := client.ListActionItems(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, 2)

	energy, err := client.DailyEnergy(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, energy, 4)
	assert.Len(t, energy["site-02"], 1)

	series, err := client.DailyMetrics(ctx, "site-03", 7)
	require.NoError(t, err)
	require.Len(t, series, 7)
	_, ok := series[0].Value("yield_wh")
	assert.True(t, ok)
}

func TestFakeFleetAPIMutations(t *testing.T) {
	srv := newFakeFleetAPI(3, time.Now().UTC(), 1)
	client := newFakeClient(t, srv)
	ctx := context.Background()

	require.NoError(t, client.AcknowledgeAction(ctx, "act-1"))
	actions, err := client.ListActionItems(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	assert.True(t, actions[0].Acknowledged())

	require.NoError(t, client.AssignTrailer(ctx, "site-03", "js-2"))
	require.NoError(t, client.RenameJobSite(ctx, "js-2", "  Dock 4 "))
	sites, err := client.ListJobSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "Dock 4", sites[1].Name)
	assert.Len(t, sites[1].Trailers, 2)

	require.NoError(t, client.AssignTrailer(ctx, "site-03", ""))
	sites, err = client.ListJobSites(ctx)
	require.NoError(t, err)
	assert.Len(t, sites[1].Trailers, 1)

	err = client.AcknowledgeAction(ctx, "missing")
	assert.ErrorIs(t, err, upstream.ErrNotFound)
}

func TestFakeFleetAPIInjectedFailure(t *testing.T) {
	srv := newFakeFleetAPI(1, time.Now().UTC(), 1)
	srv.failRate = 1
	client := newFakeClient(t, srv)

	_, err := client.ListTrailers(context.Background())
	var statusErr *upstream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}
