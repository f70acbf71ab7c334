package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplication_ForgetDropsSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReplication(reg)

	m.Enqueued.WithLabelValues("http://a").Inc()
	m.Enqueued.WithLabelValues("http://b").Add(2)
	require.Equal(t, 2, testutil.CollectAndCount(m.Enqueued))

	m.Forget("http://a")
	assert.Equal(t, 1, testutil.CollectAndCount(m.Enqueued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Enqueued.WithLabelValues("http://b")))
}

func TestCluster_SetRoleIsExclusive(t *testing.T) {
	m := NewCluster(nil)

	m.SetRole("leader")
	m.SetRole("follower")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Role.WithLabelValues("leader")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Role.WithLabelValues("follower")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Role.WithLabelValues("candidate")))
}

func TestRegisterStoreStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterStoreStats(reg, func() float64 { return 3 }, func() float64 { return 128 })

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 2)
	assert.Equal(t, "kvdb_store_file_bytes", families[0].GetName())
	assert.Equal(t, 128.0, families[0].GetMetric()[0].GetGauge().GetValue())
}
