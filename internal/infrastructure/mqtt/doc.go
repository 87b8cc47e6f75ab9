// Package mqtt provides the broker connection used by the tiles gateway.
//
// It wraps paho.mqtt.golang with:
//   - Non-blocking Dial with connection state reported through Handlers
//   - Publish/Subscribe/Unsubscribe with input validation and bounded waits
//   - Subscription tracking replayed after every automatic reconnect
//   - Panic recovery around message handlers
//   - Builders and a parser for the tiles topic scheme
//
// # Topic scheme
//
//	tiles/evt/{user}/{applicationId}/{deviceId}          retained JSON {name, properties}
//	tiles/evt/{user}/{applicationId}/{deviceId}/active   retained "true" | "false"
//	tiles/evt/{user}/{applicationId}/{deviceId}/name     retained display name
//	tiles/cmd/{user}/{applicationId}/{deviceId}          JSON {name, properties}
//
// # Usage
//
//	client := mqtt.Dial(cfg.MQTT, mqtt.Handlers{
//	    OnConnect:        func() { log.Println("up") },
//	    OnConnectionLost: func(err error) { log.Println("down:", err) },
//	})
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Active("alice", "app-1", "Tile_01")
//	client.Publish(topic, []byte("true"), 1, true)
package mqtt
