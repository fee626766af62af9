package chartengine

import (
	"context"
	"log"
)

// peekLoop subscribes to forming-candle PubSub for live indicator previews.
func (svc *Service) peekLoop(ctx context.Context) {
	if err := svc.redisReader.SubscribeFormingCandles(ctx, svc.candleCh); err != nil {
		log.Printf("[chartengine] forming-candle subscription error: %v", err)
	}
}
