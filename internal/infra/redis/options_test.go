//go:build !integration

package redis

import (
	"testing"

	"policy-brief-pipeline/internal/config"
)

func TestOptions(t *testing.T) {
	o := options(&config.RedisConfig{URL: "localhost:6379", DB: 2})
	if o.Addr != "localhost:6379" || o.DB != 2 {
		t.Errorf("address form = %+v", o)
	}

	o = options(&config.RedisConfig{URL: "redis://:pw@cache:6380/3"})
	if o.Addr != "cache:6380" || o.Password != "pw" || o.DB != 3 {
		t.Errorf("url form = %+v", o)
	}

	o = options(&config.RedisConfig{URL: "redis://cache:6380/1", Password: "override"})
	if o.Password != "override" || o.DB != 1 {
		t.Errorf("explicit password = %+v", o)
	}
}
