package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pipelined/memcached"
)

func main() {
	addr := "localhost:11211"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := memcached.Connect(ctx, addr)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	key := "example:cas"

	if err := client.Set(ctx, key, []byte("value1"), 0, 10*time.Second); err != nil {
		panic(err)
	}

	item, err := client.GetsOne(ctx, key)
	if err != nil {
		panic(err)
	}
	fmt.Printf("before cas, key: %s, value: %+v\n", item.Key, item)

	if err := client.Cas(ctx, key, []byte("value2"), 0, 10*time.Second, item.CAS); err != nil {
		panic(err)
	}

	if err := client.Cas(ctx, key, []byte("value3"), 0, 10*time.Second, item.CAS); err != nil {
		fmt.Printf("cas against the stale token failed as expected: %v\n", err)
	}

	item, err = client.GetsOne(ctx, key)
	if err != nil {
		panic(err)
	}
	fmt.Printf("after cas, key: %s, value: %+v\n", item.Key, item)
}
