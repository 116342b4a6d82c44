package common_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/common"
)

func TestParsePageDefaultsAndClamp(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/history", nil)
	p := common.ParsePage(r)
	require.Equal(t, 1, p.Page)
	require.Equal(t, common.DefaultPageLimit, p.Limit)

	r = httptest.NewRequest(http.MethodGet, "/history?page=3&limit=500", nil)
	p = common.ParsePage(r)
	require.Equal(t, 3, p.Page)
	require.Equal(t, common.MaxPageLimit, p.Limit)
	require.Equal(t, 200, p.Offset())
}

func TestPageWindow(t *testing.T) {
	p := common.Page{Page: 2, Limit: 2}
	start, end := p.Window(3)
	require.Equal(t, 2, start)
	require.Equal(t, 3, end)

	start, end = common.Page{Page: 5, Limit: 2}.Window(3)
	require.Equal(t, 3, start)
	require.Equal(t, 3, end)
}

func TestUserIDContext(t *testing.T) {
	_, ok := common.UserID(context.Background())
	require.False(t, ok)

	ctx := common.WithUserID(context.Background(), "user-1")
	id, ok := common.UserID(ctx)
	require.True(t, ok)
	require.Equal(t, "user-1", id)

	_, ok = common.UserID(common.WithUserID(context.Background(), ""))
	require.False(t, ok)
}

func TestJSONErrorShape(t *testing.T) {
	rr := httptest.NewRecorder()
	common.JSONError(rr, http.StatusBadRequest, "INVALID_PACKAGE", "Invalid package ID")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.JSONEq(t, `{"success":false,"error":"Invalid package ID","code":"INVALID_PACKAGE"}`, rr.Body.String())
}

func TestSha256Hex(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", common.Sha256Hex(nil))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", common.ClientIP(r))
}
