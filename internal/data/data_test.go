package data

import (
	"testing"
	"time"

	"DualLane/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestNewData_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	c := &conf.Data{
		Redis: &conf.Data_Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  durationpb.New(200 * time.Millisecond),
			WriteTimeout: durationpb.New(200 * time.Millisecond),
		},
	}

	rdb, redisCleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	defer redisCleanup()

	data, cleanup, err := NewData(c, log.DefaultLogger, rdb)
	require.NoError(t, err)
	require.NotNil(t, data)
	defer cleanup()

	assert.Equal(t, rdb, data.GetRedisClient())
}

func TestNewData_WithoutRedis(t *testing.T) {
	// A nil Redis client degrades the broker path but never blocks startup.
	data, cleanup, err := NewData(&conf.Data{}, log.DefaultLogger, nil)
	require.NoError(t, err)
	require.NotNil(t, data)
	defer cleanup()

	assert.Nil(t, data.GetRedisClient())
}
