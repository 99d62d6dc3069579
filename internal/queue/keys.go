package queue

import "fmt"

func waitKey(name string) string {
	return fmt.Sprintf("queue:%s:wait", name)
}

func activeKey(name string) string {
	return fmt.Sprintf("queue:%s:active", name)
}

func delayedKey(name string) string {
	return fmt.Sprintf("queue:%s:delayed", name)
}

func failedKey(name string) string {
	return fmt.Sprintf("queue:%s:failed", name)
}

func leaseKey(name string) string {
	return fmt.Sprintf("queue:%s:lease", name)
}

func jobKey(name, id string) string {
	return fmt.Sprintf("queue:%s:job:%s", name, id)
}

func dedupeKey(name, key string) string {
	return fmt.Sprintf("queue:%s:dedupe:%s", name, key)
}
