package waitingroom

import (
	"time"

	"interview-system/models"
	"interview-system/services"

	pubnub "github.com/pubnub/go"
)

// PubNubFeed adapts the store's PubNub notifications to the Feed interface.
type PubNubFeed struct {
	pn *pubnub.PubNub
}

func NewPubNubFeed(pn *pubnub.PubNub) *PubNubFeed {
	return &PubNubFeed{pn: pn}
}

func (f *PubNubFeed) SubscribeEntry(id string, fn func(EntryUpdate)) (func(), error) {
	channel := services.EntryChannelPrefix + id
	return f.subscribe(channel, func(message interface{}) {
		fn(parseEntryUpdate(message))
	})
}

func (f *PubNubFeed) SubscribeWaitingList(fn func(ids []string)) (func(), error) {
	return f.subscribe(services.WaitingChannel, func(message interface{}) {
		if ids, ok := parseWaitingList(message); ok {
			fn(ids)
		}
	})
}

func (f *PubNubFeed) subscribe(channel string, deliver func(message interface{})) (func(), error) {
	listener := pubnub.NewListener()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case msg := <-listener.Message:
				if msg == nil || msg.Channel != channel {
					continue
				}
				deliver(msg.Message)
			case <-listener.Status:
				// connectivity changes are not surfaced; missed updates
				// are acceptable on this path
			case <-listener.Presence:
			}
		}
	}()

	f.pn.AddListener(listener)
	f.pn.Subscribe().Channels([]string{channel}).Execute()

	unsubscribe := func() {
		f.pn.Unsubscribe().Channels([]string{channel}).Execute()
		f.pn.RemoveListener(listener)
		close(done)
	}
	return unsubscribe, nil
}

func parseEntryUpdate(message interface{}) EntryUpdate {
	payload, ok := message.(map[string]interface{})
	if !ok {
		return EntryUpdate{}
	}

	if deleted, _ := payload["deleted"].(bool); deleted {
		return EntryUpdate{Found: false}
	}

	update := EntryUpdate{Found: true}
	if status, ok := payload["status"].(string); ok {
		update.Status = models.QueueStatus(status)
	}
	if ms, ok := asInt64(payload["timer_ends_at"]); ok {
		update.TimerEndsAt = time.UnixMilli(ms).UTC()
	}
	return update
}

func parseWaitingList(message interface{}) ([]string, bool) {
	payload, ok := message.(map[string]interface{})
	if !ok {
		return nil, false
	}
	raw, ok := payload["ids"].([]interface{})
	if !ok {
		return nil, false
	}

	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		if id, ok := item.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, true
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
