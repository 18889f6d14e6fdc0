// Package mqtt is the bridge's MQTT client.
//
// It wraps paho.mqtt.golang with auto-reconnect, subscription restoration,
// handler panic recovery and an optional Last Will so the bridge's health
// topic flips to "offline" if the process dies. The broker is either an
// external Mosquitto or the embedded one from package broker.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    ipx800.HealthTopic(),
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/ipx800/ipx800/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
