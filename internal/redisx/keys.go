package redisx

import (
	"fmt"
	"time"
)

const (
	// Order status cache: order_status:{order_id} -> status
	KeyOrderStatus = "order_status:%s"

	// Duplicate-delivery filter: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sweep lock: lock:sweep:{job}
	KeySweepLock = "lock:sweep:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }

func SweepLockKey(job string) string { return fmt.Sprintf(KeySweepLock, job) }
