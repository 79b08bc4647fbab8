package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestProcessOperateCounter(t *testing.T) {
	before := testutil.ToFloat64(ProcessOperate.WithLabelValues("scale", "failed"))
	ProcessOperate.WithLabelValues("scale", Result(errors.New("boom"))).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ProcessOperate.WithLabelValues("scale", "failed")))
}

func TestObserveDeployment(t *testing.T) {
	ObserveDeployment("successful", time.Now().Add(-time.Minute))
	assert.Equal(t, 1, testutil.CollectAndCount(DeploymentTimeConsumed))
}
