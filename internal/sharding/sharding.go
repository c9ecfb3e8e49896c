package sharding

import "github.com/cespare/xxhash/v2"

// ShardRouter maps a user id onto one of ShardCount databases. All orders of a
// user live on the same shard.
type ShardRouter struct {
	ShardCount int
}

func NewShardRouter(shardCount int) *ShardRouter {
	if shardCount < 1 {
		shardCount = 1
	}
	return &ShardRouter{ShardCount: shardCount}
}

func (r *ShardRouter) GetShard(userID string) int {
	return int(xxhash.Sum64String(userID) % uint64(r.ShardCount))
}
