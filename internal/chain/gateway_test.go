package chain

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const testToken = "0x000000000000000000000000000000000000dEaD"

func TestGatewayExecutor_BuySuccess(t *testing.T) {
	var got swapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/buy", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(swapResponse{OK: true, Received: "512.75", TxHash: "0xfeed"})
	}))
	defer srv.Close()

	exec := NewGatewayExecutor(testLogger(), srv.URL)
	res, err := exec.Buy(context.Background(), testToken,
		decimal.RequireFromString("0.5"), decimal.RequireFromString("1.5"), model.GasDirective("+0.1"), true)
	require.NoError(t, err)

	assert.Equal(t, testToken, got.Token)
	assert.Equal(t, "0.5", got.Amount)
	assert.Equal(t, "1.5", got.SlippagePct)
	assert.Equal(t, "+0.1", got.Gas)
	assert.True(t, got.OnV2)

	assert.True(t, res.Received.Equal(decimal.RequireFromString("512.75")))
	assert.Equal(t, "0xfeed", res.TxHash)
}

func TestGatewayExecutor_SellRejectedReturnsSwapError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/sell", r.URL.Path)
		json.NewEncoder(w).Encode(swapResponse{OK: false, TxHash: "0xbad", Error: "execution reverted"})
	}))
	defer srv.Close()

	exec := NewGatewayExecutor(testLogger(), srv.URL)
	_, err := exec.Sell(context.Background(), testToken,
		decimal.RequireFromString("1000"), decimal.RequireFromString("1"), model.GasDirective(""), false)
	require.Error(t, err)

	var swapErr *SwapError
	require.True(t, errors.As(err, &swapErr))
	assert.Equal(t, "0xbad", swapErr.TxHash)
	assert.Contains(t, swapErr.Error(), "execution reverted")
}

func TestGatewayExecutor_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := NewGatewayExecutor(testLogger(), srv.URL)
	_, err := exec.Buy(context.Background(), testToken,
		decimal.RequireFromString("1"), decimal.RequireFromString("1"), model.GasDirective(""), true)
	require.Error(t, err)

	// An HTTP failure is not a swap rejection; no transaction was attempted.
	var swapErr *SwapError
	assert.False(t, errors.As(err, &swapErr))
}

func TestGatewayExecutor_Approval(t *testing.T) {
	approved := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/approval/check":
			json.NewEncoder(w).Encode(map[string]bool{"approved": approved})
		case "/approval/request":
			approved = true
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	exec := NewGatewayExecutor(testLogger(), srv.URL)
	ctx := context.Background()

	ok, err := exec.IsApproved(ctx, testToken, true)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, exec.Approve(ctx, testToken, true))

	ok, err = exec.IsApproved(ctx, testToken, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGatewayExecutor_TokenBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"balance": "123456.789"})
	}))
	defer srv.Close()

	exec := NewGatewayExecutor(testLogger(), srv.URL)
	balance, err := exec.TokenBalance(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("123456.789")))
}
