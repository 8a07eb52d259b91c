package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CFG_TEST_VALUE", "  mongo://x ")
	assert.Equal(t, "mongo://x", GetEnv("CFG_TEST_VALUE", "default"))
	assert.Equal(t, "default", GetEnv("CFG_TEST_MISSING", "default"))
}

func TestGetInt(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "42")
	t.Setenv("CFG_TEST_BAD_INT", "forty")
	assert.Equal(t, 42, GetInt("CFG_TEST_INT", 1))
	assert.Equal(t, 1, GetInt("CFG_TEST_BAD_INT", 1))
}

func TestGetDuration(t *testing.T) {
	t.Setenv("CFG_TEST_DURATION", "300ms")
	assert.Equal(t, 300*time.Millisecond, GetDuration("CFG_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetDuration("CFG_TEST_DURATION_MISSING", time.Second))
}

func TestGetList(t *testing.T) {
	t.Setenv("CFG_TEST_BROKERS", "a:9092, ,b:9092")
	assert.Equal(t, []string{"a:9092", "b:9092"}, GetList("CFG_TEST_BROKERS", ""))
	assert.Equal(t, []string{"localhost:9092"}, GetList("CFG_TEST_BROKERS_MISSING", "localhost:9092"))
}
