package relay

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/sketchsync/sketch/board"
)

// RedisFanout publishes room frames on one redis channel per room.
type RedisFanout struct {
	rdb        *redis.Client
	instanceId board.Id
}

func NewRedisFanout(ctx context.Context, redisAddr string) (*RedisFanout, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, err
	}
	glog.Infof("[relay]connected to redis %s\n", redisAddr)
	return &RedisFanout{
		rdb:        rdb,
		instanceId: board.NewId(),
	}, nil
}

func redisRoomChannel(room string) string {
	return fmt.Sprintf("sketch:room:%s", room)
}

func (self *RedisFanout) Publish(ctx context.Context, room string, frameBytes []byte) error {
	return self.rdb.Publish(ctx, redisRoomChannel(room), fanoutMessage(self.instanceId, frameBytes)).Err()
}

func (self *RedisFanout) Subscribe(ctx context.Context, room string, receive func(frameBytes []byte)) (func(), error) {
	pubsub := self.rdb.Subscribe(ctx, redisRoomChannel(room))
	// wait for the subscription so no publish after this returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	go board.HandleError(func() {
		for message := range pubsub.Channel() {
			instanceId, frameBytes, ok := parseFanoutMessage([]byte(message.Payload))
			if !ok {
				glog.V(2).Infof("[relay]%s drop fanout message\n", room)
				continue
			}
			if instanceId == self.instanceId {
				continue
			}
			receive(frameBytes)
		}
	})

	return func() {
		pubsub.Close()
	}, nil
}

func (self *RedisFanout) Close() {
	self.rdb.Close()
}
