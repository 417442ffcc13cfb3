package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher republishes POCSAG messages and scanner status
// transitions to an MQTT broker, grounded on the teacher's
// mqtt_publisher.go connection setup (§11 domain stack).
type MQTTPublisher struct {
	client mqtt.Client
	config MQTTConfig
}

func generateMQTTClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "evilsdr_" + hex.EncodeToString(b)
}

// NewMQTTPublisher connects to config.Broker and returns a ready publisher.
func NewMQTTPublisher(config MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateMQTTClientID())
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("mqtt: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect to broker: %w", token.Error())
	}

	return &MQTTPublisher{client: client, config: config}, nil
}

// PublishPocsag republishes a decoded pager message under
// <prefix>/pocsag (§11).
func (mp *MQTTPublisher) PublishPocsag(msg POCSAGMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("mqtt: marshal pocsag message: %v", err)
		return
	}
	topic := mp.config.TopicPrefix + "/pocsag"
	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	token.Wait()
}

// PublishScanStatus republishes a scanner status transition under
// <prefix>/scanner (§11).
func (mp *MQTTPublisher) PublishScanStatus(status ScanStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		log.Printf("mqtt: marshal scan status: %v", err)
		return
	}
	topic := mp.config.TopicPrefix + "/scanner"
	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	token.Wait()
}

// Disconnect closes the MQTT connection cleanly.
func (mp *MQTTPublisher) Disconnect() {
	mp.client.Disconnect(250)
}
