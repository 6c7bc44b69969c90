package queue

import (
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestOpenDrivers(t *testing.T) {
	q, closeFn, err := Open("none", nil, "", "impact_events")
	if err != nil || q != nil || closeFn() != nil {
		t.Fatalf("драйвер none должен отключать очередь, получили %v %v", q, err)
	}

	if _, _, err := Open("redis", nil, "", "impact_events"); err == nil {
		t.Fatalf("ожидали ошибку без клиента redis")
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	q, _, err = Open("Redis", client, "", "impact_events")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := q.(*RedisImpactQueue); !ok {
		t.Fatalf("ожидали очередь redis, получили %T", q)
	}

	if _, _, err := Open("kafka", nil, "", "impact_events"); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("ожидали ErrUnknownDriver, получили %v", err)
	}
	if _, _, err := Open("rabbitmq", nil, "", "impact_events"); err == nil {
		t.Fatalf("ожидали ошибку без адреса RabbitMQ")
	}
}
