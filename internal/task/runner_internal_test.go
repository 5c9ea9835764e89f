package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	r := NewTaskRunner(nil, TaskRunnerConfig{
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  10 * time.Second,
	}, nil)

	assert.Equal(t, time.Second, r.retryDelay(1))
	assert.Equal(t, 2*time.Second, r.retryDelay(2))
	assert.Equal(t, 4*time.Second, r.retryDelay(3))
	assert.Equal(t, 8*time.Second, r.retryDelay(4))
	assert.Equal(t, 10*time.Second, r.retryDelay(5))
	assert.Equal(t, 10*time.Second, r.retryDelay(40))
}

func TestNewTaskRunnerDefaults(t *testing.T) {
	r := NewTaskRunner(nil, TaskRunnerConfig{}, nil)
	assert.Equal(t, DefaultTaskRunnerConfig(), r.config)
}
