// Package broker runs an optional in-process MQTT broker.
//
// Small installs (one relay board, one bridge, a dashboard) often have no
// Mosquitto. With mqtt.embedded.enabled the bridge starts its own broker
// and then connects to it like any other client:
//
//	mqtt:
//	  enabled: true
//	  broker:
//	    host: 127.0.0.1
//	    port: 1883
//	  embedded:
//	    enabled: true
//	    address: ":1883"
package broker
