package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("kolosal", reg, zap.NewNop())

	c.RecordJobSubmitted("a1")
	c.RecordJobSubmitted("a1")
	c.RecordJobTerminal("a1", "COMPLETED", 10*time.Millisecond)
	c.SetJobQueueDepth("a1", 3)
	c.SetRouterQueueDepth(7)
	c.RecordMessageDelivered()
	c.RecordMessageDropped()
	c.SetAgentsRunning(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted.WithLabelValues("a1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTerminal.WithLabelValues("a1", "COMPLETED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobQueueDepth.WithLabelValues("a1")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.routerQueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.agentsRunning))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	// None of these may panic.
	c.RecordHTTPRequest("GET", "/v1/agents", "2xx", time.Millisecond)
	c.RecordJobSubmitted("a1")
	c.RecordJobTerminal("a1", "FAILED", 0)
	c.SetJobQueueDepth("a1", 1)
	c.SetRouterQueueDepth(1)
	c.RecordMessageDelivered()
	c.RecordMessageDropped()
	c.SetAgentsRunning(0)
}
