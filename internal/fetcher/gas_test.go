package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// rpcServer answers every eth_gasPrice call with the given raw JSON result.
func rpcServer(t *testing.T, result string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析 rpc 请求失败: %v", err)
			return
		}
		if req.Method != "eth_gasPrice" {
			t.Errorf("unexpected method %q", req.Method)
		}
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func TestGasFetchConvertsWeiToGwei(t *testing.T) {
	var calls int32
	// 2_512_341_070 wei = 2.51234107 gwei
	srv := rpcServer(t, `"0x95bf484e"`, &calls)
	defer srv.Close()

	g := NewGasRPC(GasOptions{Timeout: time.Second}, noopLogger())
	defer g.Close()

	gwei, err := g.FetchGasPrice(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gwei.String() != "2.512" {
		t.Fatalf("期望 2.512 gwei, 实际 %s", gwei)
	}

	if _, err := g.FetchGasPrice(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 rpc calls, got %d", calls)
	}
}

func TestGasFetchMalformedResult(t *testing.T) {
	for name, result := range map[string]string{
		"number":  `12345`,
		"garbage": `"0xzz"`,
		"null":    `null`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := rpcServer(t, result, nil)
			defer srv.Close()

			g := NewGasRPC(GasOptions{Timeout: time.Second}, noopLogger())
			defer g.Close()
			if _, err := g.FetchGasPrice(context.Background(), srv.URL); err == nil {
				t.Fatal("格式异常的价格应返回错误")
			}
		})
	}
}

func TestGasFetchRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32000,"message":"rate limited"}}`))
	}))
	defer srv.Close()

	g := NewGasRPC(GasOptions{Timeout: time.Second}, noopLogger())
	defer g.Close()
	if _, err := g.FetchGasPrice(context.Background(), srv.URL); err == nil {
		t.Fatal("rpc error should surface")
	}
}

func TestGasFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	g := NewGasRPC(GasOptions{Timeout: 50 * time.Millisecond}, noopLogger())
	defer g.Close()

	start := time.Now()
	if _, err := g.FetchGasPrice(context.Background(), srv.URL); err == nil {
		t.Fatal("hung endpoint should time out")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestGasFetchMissingURL(t *testing.T) {
	g := NewGasRPC(GasOptions{}, noopLogger())
	if _, err := g.FetchGasPrice(context.Background(), ""); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
}
