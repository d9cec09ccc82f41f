// Package feed connects the monitor to an MQTT broker so several instances
// can share captures in real time. Each instance publishes what it scrapes
// and ingests what the others publish, with its own messages filtered out
// by origin ID.
package feed

import (
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"airwatch/song"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTopic = "airwatch/captured"

// envelope wraps a capture with the publishing instance's origin ID.
type envelope struct {
	Origin string             `json:"origin"`
	Song   *song.CapturedSong `json:"song"`
}

// Client is the MQTT feed client. Incoming remote captures land on a
// buffered channel; the ingest pipeline drains it like any other source.
type Client struct {
	broker   string
	port     int
	origin   string
	prefix   string
	client   mqtt.Client
	captures chan *song.CapturedSong
	shutdown chan struct{}
}

// NewClient creates a feed client for the given broker. The origin ID must
// be unique per running instance. An empty topic uses the shared default.
func NewClient(broker string, port int, origin, topic string) *Client {
	topic = strings.TrimSuffix(strings.TrimSpace(topic), "/")
	if topic == "" {
		topic = defaultTopic
	}
	return &Client{
		broker:   broker,
		port:     port,
		origin:   origin,
		prefix:   topic + "/",
		captures: make(chan *song.CapturedSong, 1000),
		shutdown: make(chan struct{}),
	}
}

// Connect establishes the broker connection and subscribes to the shared
// capture topic. The paho library handles reconnects from here on.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.broker, c.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("airwatch-%s-%d", c.origin, time.Now().Unix()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	log.Printf("Feed: connecting to MQTT broker at %s...", brokerURL)
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("feed: connect to broker: %w", token.Error())
	}
	log.Printf("Feed: connected to MQTT broker")
	return nil
}

func (c *Client) onConnect(client mqtt.Client) {
	topic := c.prefix + "#"
	log.Printf("Feed: connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("Feed: subscribe failed: %v", token.Error())
		return
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("Feed: connection lost: %v, will reconnect", err)
}

func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		log.Printf("Feed: failed to parse message on %s: %v", msg.Topic(), err)
		return
	}
	// Our own publishes come back on the wildcard subscription.
	if env.Origin == c.origin || env.Song == nil {
		return
	}
	cs := env.Song
	cs.Source = song.SourceFeed
	if cs.Timestamp.IsZero() {
		cs.Timestamp = time.Now()
	}
	select {
	case c.captures <- cs:
	default:
		log.Printf("Feed: capture channel full, dropping %s - %s", cs.Artist, cs.Title)
	}
}

// Publish sends a local capture to the shared topic. Errors are logged, not
// returned: a broker outage must never stall the scrape pipeline.
func (c *Client) Publish(cs *song.CapturedSong) {
	if c == nil || c.client == nil || !c.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(envelope{Origin: c.origin, Song: cs})
	if err != nil {
		log.Printf("Feed: marshal capture: %v", err)
		return
	}
	topic := c.prefix + sanitizeTopic(cs.StationName)
	token := c.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("Feed: publish to %s failed: %v", topic, token.Error())
		}
	}()
}

// Captures returns the channel of remote captures.
func (c *Client) Captures() <-chan *song.CapturedSong {
	return c.captures
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.client.IsConnected()
}

// Stop unsubscribes and disconnects.
func (c *Client) Stop() {
	if c == nil {
		return
	}
	if c.client != nil && c.client.IsConnected() {
		c.client.Unsubscribe(c.prefix + "#")
		c.client.Disconnect(250)
	}
	close(c.shutdown)
	log.Printf("Feed: client stopped")
}

// sanitizeTopic keeps station names safe as topic segments.
func sanitizeTopic(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")
	out := replacer.Replace(name)
	if out == "" {
		return "unknown"
	}
	return strings.ToLower(out)
}
