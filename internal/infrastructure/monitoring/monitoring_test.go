package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(context.Context) error { return nil }, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") }, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, "connection refused", status.Checks["redis"])
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 20*time.Millisecond)

	assert.False(t, h.IsReady(context.Background()))
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	p.RecordDropped("CHAT")
	p.RecordDropped("CHAT")
	p.SetViewers("s1", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.signalDropped.WithLabelValues("CHAT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.streamViewers.WithLabelValues("s1")))

	p.ForgetStream(domain.StreamID("s1"))
	assert.Equal(t, 0, testutil.CollectAndCount(p.streamViewers))
}

func TestPrometheusCollector_NilSafe(t *testing.T) {
	var p *PrometheusCollector
	assert.NotPanics(t, func() {
		p.RecordClientConnected()
		p.RecordDropped("x")
		p.RecordPlacement("ok")
	})
}
