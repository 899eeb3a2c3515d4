package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"i4.energy/across/gsmmodem/modem"
)

// MQTTBridge connects the modem to an MQTT broker: send requests arrive
// as JSON on the send topic, received messages are published on the
// receive topic.
type MQTTBridge struct {
	Logger *slog.Logger
	Modem  gateway
	Config *Config

	client mqtt.Client
}

type mqttSendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Flash   bool   `json:"flash,omitempty"`
}

type mqttReceivedMessage struct {
	From       string    `json:"from"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
	Incomplete bool      `json:"incomplete,omitempty"`
	Missing    []int     `json:"missing,omitempty"`
}

// Start connects to the broker and subscribes to the send topic.
// Reconnects are handled by the client; the subscription is re-established
// from the connect handler.
func (b *MQTTBridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.Config.MQTTBroker)
	opts.SetClientID(b.Config.MQTTClientID)
	if b.Config.MQTTUsername != "" {
		opts.SetUsername(b.Config.MQTTUsername)
		opts.SetPassword(b.Config.MQTTPassword)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.Logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.Logger.Info("MQTT connected, subscribing", "topic", b.Config.MQTTSendTopic)
		token := c.Subscribe(b.Config.MQTTSendTopic, 1, b.handleSendRequest(ctx))
		if token.Wait() && token.Error() != nil {
			b.Logger.Error("MQTT subscribe failed", "topic", b.Config.MQTTSendTopic, "error", token.Error())
		}
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	token.Wait()
	return token.Error()
}

// Stop disconnects from the broker, allowing in-flight publishes a short
// grace period.
func (b *MQTTBridge) Stop() {
	if b.client != nil {
		b.client.Disconnect(500)
	}
}

func (b *MQTTBridge) handleSendRequest(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		var req mqttSendRequest
		if err := json.Unmarshal(m.Payload(), &req); err != nil {
			b.Logger.Error("MQTT send request is not valid JSON", "error", err)
			return
		}
		if req.To == "" || req.Message == "" {
			b.Logger.Error("MQTT send request missing 'to' or 'message'")
			return
		}

		result, err := b.Modem.SendMessage(ctx, req.To, req.Message, modem.SendOptions{Flash: req.Flash})
		if err != nil {
			b.Logger.Error("Failed to send SMS from MQTT request",
				"error", err, "to", req.To, "segments_sent", result.Sent())
			return
		}
		b.Logger.Info("SMS sent from MQTT request",
			"to", req.To, "segments", len(result.Segments))
	}
}

// PublishReceived forwards a received message to the receive topic.
// Wired as an OnIncomingMessage listener.
func (b *MQTTBridge) PublishReceived(msg modem.Message) {
	payload, err := json.Marshal(mqttReceivedMessage{
		From:       msg.Sender,
		Message:    msg.Text,
		Time:       msg.Time,
		Incomplete: msg.Incomplete,
		Missing:    msg.Missing,
	})
	if err != nil {
		b.Logger.Error("Failed to encode received message", "error", err)
		return
	}

	token := b.client.Publish(b.Config.MQTTReceiveTopic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		b.Logger.Error("Failed to publish received message",
			"topic", b.Config.MQTTReceiveTopic, "error", token.Error())
	}
}
